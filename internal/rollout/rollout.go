// Package rollout provides deterministic subject bucketing for percentage rollouts.
// It uses consistent hashing to assign subjects to buckets (0-99) based on the value of
// the distribution's bucketBy attribute and the flag key. This ensures:
//   - Same subject always gets same result for a flag (deterministic)
//   - Even distribution across buckets (uses xxHash algorithm)
//   - Growing a variation's weight only adds subjects at the boundary it shares with the next range
package rollout

import (
	"github.com/TimurManjosov/flagrules/internal/rules"
)

// Pick assigns a subject to a variation of the distribution.
//
// Algorithm:
//  1. Hash(flagKey + bucketBy + value) → bucket (0-99)
//  2. Walk variations in declared order, accumulating weights; first range containing
//     the bucket wins
//
// Example: variations = [A:50, B:30, C:10]
//   - bucket 0-49  → A
//   - bucket 50-79 → B
//   - bucket 80-89 → C
//   - bucket 90-99 → unallocated, ok=false
//
// ok is false when value is empty or the bucket lands in the unallocated remainder.
func Pick(d rules.Distribution, flagKey, value string) (variation string, ok bool) {
	bucketBy := d.BucketBy
	if bucketBy == "" {
		bucketBy = rules.DefaultBucketBy
	}
	bucket := Bucket(flagKey, bucketBy, value)
	if bucket < 0 {
		return "", false
	}
	return pickBucket(d, bucket)
}

func pickBucket(d rules.Distribution, bucket int) (string, bool) {
	cumulative := 0
	for _, wv := range d.Variations {
		if wv.Weight <= 0 {
			continue
		}
		cumulative += wv.Weight
		if bucket < cumulative {
			return wv.Variation, true
		}
	}
	return "", false
}
