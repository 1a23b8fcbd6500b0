package editor

import (
	"github.com/TimurManjosov/flagrules/internal/rules"
)

func clampWeight(w int) int {
	if w < 0 {
		return 0
	}
	if w > 100 {
		return 100
	}
	return w
}

// InitialDistribution returns the distribution the percentage editor starts from.
// A non-empty prior is kept as is; otherwise every variation gets floor(100/N) and the
// remainder stays unallocated. bucketBy defaults to "identifier".
func InitialDistribution(variations []rules.Variation, prior *rules.Distribution) rules.Distribution {
	var d rules.Distribution
	if prior != nil && len(prior.Variations) > 0 {
		d = prior.Clone()
	} else {
		d.Variations = make([]rules.WeightedVariation, 0, len(variations))
		if n := len(variations); n > 0 {
			each := 100 / n
			for _, v := range variations {
				d.Variations = append(d.Variations, rules.WeightedVariation{Variation: v.Identifier, Weight: each})
			}
		}
		if prior != nil {
			d.BucketBy = prior.BucketBy
		}
	}
	if d.BucketBy == "" {
		d.BucketBy = rules.DefaultBucketBy
	}
	return d
}

// SetWeight sets one variation's weight, clamped to [0,100]. With exactly two variations
// the other one becomes the complement; with more, the rest are untouched and an
// overflow is left for Overflow to report.
func SetWeight(d rules.Distribution, variation string, value int) rules.Distribution {
	out := d.Clone()
	idx := -1
	for i, wv := range out.Variations {
		if wv.Variation == variation {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}

	value = clampWeight(value)
	out.Variations[idx].Weight = value
	if len(out.Variations) == 2 {
		out.Variations[1-idx].Weight = 100 - value
	}
	return out
}

// Overflow reports whether the weights sum to more than 100.
func Overflow(d rules.Distribution) bool {
	return d.Sum() > 100
}

// BarWidths returns the display width of each segment as a percentage of the full bar.
func BarWidths(d rules.Distribution) []float64 {
	widths := make([]float64, len(d.Variations))
	for i, wv := range d.Variations {
		widths[i] = float64(clampWeight(wv.Weight))
	}
	return widths
}
