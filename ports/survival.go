package ports

import (
	"context"
)

// SurvivalFit is the group-indicator verdict of a survival model
type SurvivalFit struct {
	PValue      float64 `json:"p_value"`
	HazardRatio float64 `json:"hazard_ratio"`
}

// SurvivalModel scores a binary grouping against follow-up.
// Implementations are stateless per call; a fit that does not converge
// (empty group, perfect separation, no events) returns a MODEL_FIT_ERROR.
type SurvivalModel interface {
	// Name identifies the model in logs and persisted runs
	Name() string

	// Fit returns the p-value and hazard ratio of group 1 versus group 0
	Fit(ctx context.Context, groups []float64, durations []float64, events []bool) (SurvivalFit, error)
}
