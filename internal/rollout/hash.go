// Package rollout provides deterministic subject bucketing for percentage rollouts.
package rollout

import (
	"github.com/cespare/xxhash/v2"
)

// Buckets is the number of buckets a subject can fall into; weights are percentages of it.
const Buckets = 100

// Bucket returns a deterministic bucket (0-99) for the given bucketBy attribute value.
// The same flagKey + bucketBy + value combination always returns the same bucket.
func Bucket(flagKey, bucketBy, value string) int {
	if value == "" {
		return -1 // Invalid: nothing to hash
	}
	// Combine with delimiters for uniqueness
	key := flagKey + ":" + bucketBy + ":" + value
	hash := xxhash.Sum64String(key)
	return int(hash % Buckets)
}
