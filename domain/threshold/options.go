package threshold

import (
	"runtime"
	"time"

	"gocutoff/domain/core"
)

// SelectionPolicy decides how fold verdicts are aggregated into a selection
type SelectionPolicy string

const (
	// PolicyMaxRate picks the candidate with the highest validation rate; rate must be > 0
	PolicyMaxRate SelectionPolicy = "max_rate"
	// PolicyMajority additionally requires the candidate to validate in more than half the folds
	PolicyMajority SelectionPolicy = "majority"
	// PolicyFullFit requires the full-dataset fit to validate and ranks by validation rate
	PolicyFullFit SelectionPolicy = "full_fit"
)

// Valid reports whether the policy is known
func (p SelectionPolicy) Valid() bool {
	switch p {
	case PolicyMaxRate, PolicyMajority, PolicyFullFit:
		return true
	}
	return false
}

// FoldSubset says which side of a fold the cross-validated fit runs on
type FoldSubset string

const (
	FoldSubsetTest  FoldSubset = "test"
	FoldSubsetTrain FoldSubset = "train"
)

// Valid reports whether the subset is known
func (s FoldSubset) Valid() bool {
	return s == FoldSubsetTest || s == FoldSubsetTrain
}

// Options configure one engine run. Nil pointers and zero ranks mean
// the corresponding bound source is not configured.
type Options struct {
	LowerPercentile       *float64                    `json:"lower_percentile,omitempty"`
	UpperPercentile       *float64                    `json:"upper_percentile,omitempty"`
	StepPercentile        float64                     `json:"step_percentile"`
	MinNbSamples          int                         `json:"min_nb_samples,omitempty"`
	NoiseLevel            *float64                    `json:"noise_level,omitempty"`
	MinReferenceThreshold map[core.FeatureKey]float64 `json:"min_reference_threshold,omitempty"`

	NbFolds            int   `json:"nb_folds"`
	NbCrossValidations int   `json:"nb_cross_validations"`
	Seed               int64 `json:"seed"`

	FitTimeout time.Duration   `json:"fit_timeout"`
	Workers    int             `json:"workers"`
	Policy     SelectionPolicy `json:"selection_policy"`
	FoldSubset FoldSubset      `json:"fold_subset"`
}

// DefaultOptions returns the defaults used when a field is left unset
func DefaultOptions() Options {
	return Options{
		StepPercentile:     1.0,
		NbFolds:            3,
		NbCrossValidations: 1,
		Seed:               42,
		FitTimeout:         10 * time.Second,
		Workers:            runtime.GOMAXPROCS(0),
		Policy:             PolicyMaxRate,
		FoldSubset:         FoldSubsetTest,
	}
}

// WithDefaults fills unset fields from DefaultOptions
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.StepPercentile == 0 {
		o.StepPercentile = d.StepPercentile
	}
	if o.NbFolds == 0 {
		o.NbFolds = d.NbFolds
	}
	if o.NbCrossValidations == 0 {
		o.NbCrossValidations = d.NbCrossValidations
	}
	if o.FitTimeout == 0 {
		o.FitTimeout = d.FitTimeout
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Policy == "" {
		o.Policy = d.Policy
	}
	if o.FoldSubset == "" {
		o.FoldSubset = d.FoldSubset
	}
	return o
}

// EffectiveUpperPercentile is the configured upper percentile, or 100 - lower
func (o Options) EffectiveUpperPercentile() (float64, bool) {
	if o.UpperPercentile != nil {
		return *o.UpperPercentile, true
	}
	if o.LowerPercentile != nil {
		return 100 - *o.LowerPercentile, true
	}
	return 0, false
}

// Float is a helper for optional float fields
func Float(v float64) *float64 {
	return &v
}
