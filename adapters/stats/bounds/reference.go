package bounds

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
)

// ReferenceMethod names how a per-feature reference threshold is derived
// from non-diseased tissue.
type ReferenceMethod string

const (
	ReferenceMax      ReferenceMethod = "max"
	ReferenceMean     ReferenceMethod = "mean"
	ReferenceMeanNStd ReferenceMethod = "mean_nstd"
)

// Valid reports whether the method is known
func (m ReferenceMethod) Valid() bool {
	switch m {
	case ReferenceMax, ReferenceMean, ReferenceMeanNStd:
		return true
	}
	return false
}

// ReferenceValue reduces one normal-tissue column.
// nStd is only used by ReferenceMeanNStd (mean + nStd * sample std).
func ReferenceValue(values []float64, method ReferenceMethod, nStd float64) (float64, error) {
	switch method {
	case ReferenceMax:
		return stats.Max(values)
	case ReferenceMean:
		return stats.Mean(values)
	case ReferenceMeanNStd:
		mean, err := stats.Mean(values)
		if err != nil {
			return 0, err
		}
		if len(values) < 2 {
			return mean, nil
		}
		std, err := stats.StandardDeviationSample(values)
		if err != nil {
			return 0, err
		}
		return mean + nStd*std, nil
	default:
		return 0, fmt.Errorf("unknown reference method %q", method)
	}
}

// ReferenceThresholds computes one reference value per feature of a
// normal-tissue matrix; the result feeds Options.MinReferenceThreshold.
func ReferenceThresholds(normal *cohort.ExpressionMatrix, method ReferenceMethod, nStd float64) (map[core.FeatureKey]float64, error) {
	out := make(map[core.FeatureKey]float64)
	for _, feature := range normal.Features() {
		col, err := normal.Column(feature)
		if err != nil {
			return nil, err
		}
		v, err := ReferenceValue(col, method, nStd)
		if err != nil {
			return nil, fmt.Errorf("reference threshold for %s: %w", feature, err)
		}
		out[feature] = v
	}
	return out, nil
}
