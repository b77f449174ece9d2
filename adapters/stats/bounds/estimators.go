package bounds

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
)

// sorted returns an ascending copy
func sorted(values []float64) []float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	return s
}

// Percentile returns the p-th percentile (0-100) with linear interpolation
// between order statistics at position (n-1)*p/100.
// Returns NaN for an empty column.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return PercentileSorted(sorted(values), p)
}

// PercentileSorted is Percentile on an already ascending slice
func PercentileSorted(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return math.NaN()
	}
	p = math.Max(0, math.Min(100, p))
	pos := float64(n-1) * p / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

// OrderStatistic returns the k-th smallest (ascending) or k-th largest value.
func OrderStatistic(feature core.FeatureKey, values []float64, k int, ascending bool) (float64, error) {
	if k < 1 {
		return 0, errors.ConfigurationError("order-statistic rank must be at least 1").ForFeature(string(feature))
	}
	if len(values) < k {
		return 0, errors.InsufficientData(string(feature), k, len(values))
	}
	s := sorted(values)
	if ascending {
		return s[k-1], nil
	}
	return s[len(s)-k], nil
}

// NoiseFloor is the assay noise level; it is a constant lower bound.
func NoiseFloor(level float64) float64 {
	return level
}

// Estimator derives FeatureBounds from the configured sources
type Estimator struct {
	lowerPercentile *float64
	upperPercentile *float64
	rank            int
	noiseLevel      *float64
	reference       map[core.FeatureKey]float64
}

// NewEstimator validates that each direction has at least one source
func NewEstimator(opts threshold.Options) (*Estimator, error) {
	e := &Estimator{
		lowerPercentile: opts.LowerPercentile,
		rank:            opts.MinNbSamples,
		noiseLevel:      opts.NoiseLevel,
		reference:       opts.MinReferenceThreshold,
	}
	if upper, ok := opts.EffectiveUpperPercentile(); ok {
		e.upperPercentile = &upper
	}

	if opts.MinNbSamples < 0 {
		return nil, errors.ConfigurationError("min_nb_samples must not be negative")
	}
	for _, p := range []*float64{e.lowerPercentile, e.upperPercentile} {
		if p != nil && (*p < 0 || *p > 100 || math.IsNaN(*p)) {
			return nil, errors.ConfigurationError("percentile must lie in [0, 100]")
		}
	}

	hasLower := e.lowerPercentile != nil || e.rank > 0 || e.noiseLevel != nil || e.reference != nil
	hasUpper := e.upperPercentile != nil || e.rank > 0
	if !hasLower {
		return nil, errors.ConfigurationError("no lower-bound source configured")
	}
	if !hasUpper {
		return nil, errors.ConfigurationError("no upper-bound source configured")
	}
	return e, nil
}

// Compute evaluates every configured source on one feature column.
// A feature missing from the reference map has no reference source.
func (e *Estimator) Compute(feature core.FeatureKey, values []float64) (threshold.FeatureBounds, error) {
	b := threshold.FeatureBounds{Feature: feature}

	if e.rank > 0 {
		lo, err := OrderStatistic(feature, values, e.rank, true)
		if err != nil {
			return b, err
		}
		hi, err := OrderStatistic(feature, values, e.rank, false)
		if err != nil {
			return b, err
		}
		b.LowerSources = append(b.LowerSources, threshold.BoundSource{
			Kind: threshold.SourceOrderStatistic, Direction: threshold.DirectionLower,
			Parameter: float64(e.rank), Value: lo,
		})
		b.UpperSources = append(b.UpperSources, threshold.BoundSource{
			Kind: threshold.SourceOrderStatistic, Direction: threshold.DirectionUpper,
			Parameter: float64(e.rank), Value: hi,
		})
	}

	if e.lowerPercentile != nil || e.upperPercentile != nil {
		if len(values) == 0 {
			return b, errors.InsufficientData(string(feature), 1, 0)
		}
		s := sorted(values)
		if e.lowerPercentile != nil {
			b.LowerSources = append(b.LowerSources, threshold.BoundSource{
				Kind: threshold.SourcePercentile, Direction: threshold.DirectionLower,
				Parameter: *e.lowerPercentile, Value: PercentileSorted(s, *e.lowerPercentile),
			})
		}
		if e.upperPercentile != nil {
			b.UpperSources = append(b.UpperSources, threshold.BoundSource{
				Kind: threshold.SourcePercentile, Direction: threshold.DirectionUpper,
				Parameter: *e.upperPercentile, Value: PercentileSorted(s, *e.upperPercentile),
			})
		}
	}

	if e.noiseLevel != nil {
		b.LowerSources = append(b.LowerSources, threshold.BoundSource{
			Kind: threshold.SourceNoiseFloor, Direction: threshold.DirectionLower,
			Parameter: *e.noiseLevel, Value: NoiseFloor(*e.noiseLevel),
		})
	}

	if ref, ok := e.reference[feature]; ok && !math.IsNaN(ref) {
		b.LowerSources = append(b.LowerSources, threshold.BoundSource{
			Kind: threshold.SourceReferenceTissue, Direction: threshold.DirectionLower,
			Value: ref,
		})
	}

	// Only reachable when the reference map is the sole lower source and lacks this feature.
	if len(b.LowerSources) == 0 || len(b.UpperSources) == 0 {
		return b, ErrNoSource(feature)
	}

	b.Lower = floats.Max(sourceValues(b.LowerSources))
	b.Upper = floats.Min(sourceValues(b.UpperSources))
	return b, nil
}

// ErrNoSource reports a feature for which no configured source applies
func ErrNoSource(feature core.FeatureKey) *errors.AppError {
	return errors.InvalidInput("no bound source applies").ForFeature(string(feature))
}

func sourceValues(sources []threshold.BoundSource) []float64 {
	out := make([]float64, len(sources))
	for i, s := range sources {
		out[i] = s.Value
	}
	return out
}
