package ports

import (
	"context"
	"time"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
)

// RunRepository persists finalized engine runs for audit and later query
type RunRepository interface {
	// SaveRun stores a run with its features, candidates and fold assignments
	SaveRun(ctx context.Context, result *threshold.Result, model string) error

	// GetRun loads a run by ID
	GetRun(ctx context.Context, runID core.RunID) (*threshold.Result, error)

	// ListRuns returns run summaries, newest first
	ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error)
}

// RunSummary is a lightweight listing entry
type RunSummary struct {
	RunID         core.RunID      `json:"run_id" db:"id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	CohortHash    core.CohortHash `json:"cohort_hash" db:"cohort_hash"`
	Seed          int64           `json:"seed" db:"seed"`
	Model         string          `json:"model" db:"model"`
	FeatureCount  int             `json:"feature_count" db:"feature_count"`
	SelectedCount int             `json:"selected_count" db:"selected_count"`
}
