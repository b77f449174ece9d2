package frequency

import (
	"math"

	"github.com/montanaflynn/stats"

	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
)

// FeatureFrequency is the share of samples expressing a feature at or above its threshold
type FeatureFrequency struct {
	Feature   core.FeatureKey `json:"feature"`
	Threshold float64         `json:"threshold"`
	Active    int             `json:"active"`
	Total     int             `json:"total"`
	Percent   float64         `json:"percent"`
}

// Activation returns the percentage of values >= cut, or NaN for no values
func Activation(values []float64, cut float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	indicators := make([]float64, len(values))
	for i, v := range values {
		if v >= cut {
			indicators[i] = 1
		}
	}
	mean, err := stats.Mean(indicators)
	if err != nil {
		return math.NaN()
	}
	return 100 * mean
}

// Compute evaluates each threshold on the matrix, in matrix feature order.
// Features without a threshold, or absent from the matrix, are skipped.
func Compute(m *cohort.ExpressionMatrix, thresholds map[core.FeatureKey]float64) []FeatureFrequency {
	var out []FeatureFrequency
	for _, f := range m.Features() {
		cut, ok := thresholds[f]
		if !ok || math.IsNaN(cut) {
			continue
		}
		values, err := m.Column(f)
		if err != nil {
			continue
		}
		active := 0
		for _, v := range values {
			if v >= cut {
				active++
			}
		}
		out = append(out, FeatureFrequency{
			Feature:   f,
			Threshold: cut,
			Active:    active,
			Total:     len(values),
			Percent:   Activation(values, cut),
		})
	}
	return out
}

// SelectedThresholds collects the selected threshold of every feature that has one
func SelectedThresholds(result *threshold.Result) map[core.FeatureKey]float64 {
	out := make(map[core.FeatureKey]float64)
	for _, f := range result.Features {
		if v, ok := f.Selection.Threshold(); ok {
			out[f.Feature] = v
		}
	}
	return out
}
