package grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"gocutoff/adapters/stats/bounds"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
)

const stepTolerance = 1e-9

// PercentileRank returns the percentage of values less than or equal to x.
// Empty input yields 0.
func PercentileRank(values []float64, x float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	return percentileRankSorted(s, x)
}

func percentileRankSorted(s []float64, x float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return 100 * stat.CDF(x, stat.Empirical, s, nil)
}

// Percentiles returns lo, lo+step, ... up to hi, always ending on hi.
func Percentiles(lo, hi, step float64) []float64 {
	if hi < lo {
		return nil
	}
	n := int(math.Floor((hi-lo)/step + stepTolerance))
	out := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		out = append(out, math.Min(lo+float64(i)*step, hi))
	}
	if last := out[len(out)-1]; last < hi-stepTolerance {
		out = append(out, hi)
	}
	return out
}

// Generate builds the candidate grid of one feature. Candidates are
// non-decreasing in percentile and their values are clamped into
// [Lower, Upper]. Ineligible bounds yield an empty grid.
func Generate(feature core.FeatureKey, values []float64, b threshold.FeatureBounds, step float64) ([]threshold.CandidateThreshold, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, errors.ConfigurationError("step_percentile must be positive").ForFeature(string(feature))
	}
	if !b.Eligible() || len(values) == 0 {
		return []threshold.CandidateThreshold{}, nil
	}

	s := append([]float64(nil), values...)
	sort.Float64s(s)

	lo := percentileRankSorted(s, b.Lower)
	hi := percentileRankSorted(s, b.Upper)

	percentiles := Percentiles(lo, hi, step)
	candidates := make([]threshold.CandidateThreshold, 0, len(percentiles))
	for i, p := range percentiles {
		v := bounds.PercentileSorted(s, p)
		v = math.Max(b.Lower, math.Min(b.Upper, v))
		candidates = append(candidates, threshold.CandidateThreshold{
			Feature:    feature,
			Index:      i,
			Value:      v,
			Percentile: p,
		})
	}
	return candidates, nil
}

// Values extracts candidate threshold values in grid order
func Values(candidates []threshold.CandidateThreshold) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = c.Value
	}
	return out
}
