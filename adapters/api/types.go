package api

import (
	"time"

	"github.com/go-playground/validator/v10"

	"gocutoff/internal/config"
)

var requestValidate = validator.New()

// RunRequest overrides engine settings for one run. Unset fields keep the server configuration.
type RunRequest struct {
	Percentile         *float64           `json:"percentile" validate:"omitempty,gte=0,lte=100"`
	UpperPercentile    *float64           `json:"upper_percentile" validate:"omitempty,gte=0,lte=100"`
	StepPercentile     *float64           `json:"step_percentile" validate:"omitempty,gt=0,lte=100"`
	MinNbSamples       *int               `json:"min_nb_samples" validate:"omitempty,gte=0"`
	NoiseLevel         *float64           `json:"noise_level"`
	MinReference       map[string]float64 `json:"min_reference_threshold"`
	NbFolds            *int               `json:"nb_folds" validate:"omitempty,gte=2"`
	NbCrossValidations *int               `json:"nb_cross_validations" validate:"omitempty,gte=1"`
	Seed               *int64             `json:"seed"`
	FitTimeout         string             `json:"fit_timeout"`
	Model              string             `json:"model" validate:"omitempty,oneof=cox logrank"`
	SelectionPolicy    string             `json:"selection_policy" validate:"omitempty,oneof=max_rate majority full_fit"`
	FoldSubset         string             `json:"fold_subset" validate:"omitempty,oneof=test train"`
}

// Validate checks field-level constraints
func (r *RunRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return err
	}
	if r.FitTimeout != "" {
		if _, err := time.ParseDuration(r.FitTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Apply overlays the request on an engine configuration
func (r *RunRequest) Apply(e config.EngineConfig) config.EngineConfig {
	if r.Percentile != nil {
		e.Percentile = r.Percentile
	}
	if r.UpperPercentile != nil {
		e.UpperPercentile = r.UpperPercentile
	}
	if r.StepPercentile != nil {
		e.StepPercentile = *r.StepPercentile
	}
	if r.MinNbSamples != nil {
		e.MinNbSamples = *r.MinNbSamples
	}
	if r.NoiseLevel != nil {
		e.NoiseLevel = r.NoiseLevel
	}
	if r.MinReference != nil {
		e.MinReferenceThreshold = r.MinReference
	}
	if r.NbFolds != nil {
		e.NbFolds = *r.NbFolds
	}
	if r.NbCrossValidations != nil {
		e.NbCrossValidations = *r.NbCrossValidations
	}
	if r.Seed != nil {
		e.Seed = *r.Seed
	}
	if r.FitTimeout != "" {
		if d, err := time.ParseDuration(r.FitTimeout); err == nil {
			e.FitTimeout = d
		}
	}
	if r.Model != "" {
		e.Model = r.Model
	}
	if r.SelectionPolicy != "" {
		e.SelectionPolicy = r.SelectionPolicy
	}
	if r.FoldSubset != "" {
		e.FoldSubset = r.FoldSubset
	}
	return e
}

// RunResponse is returned after a run completes
type RunResponse struct {
	RunID          string `json:"run_id"`
	Model          string `json:"model"`
	CohortHash     string `json:"cohort_hash"`
	AssignmentHash string `json:"assignment_hash"`
	FeatureCount   int    `json:"feature_count"`
	SelectedCount  int    `json:"selected_count"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
