package migration

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"

	"gocutoff/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order. Every step is
// idempotent, so running it on an up-to-date schema is a no-op.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		fn   func(context.Context, *sqlx.DB) error
	}{
		{"threshold_runs table", r.createRunsTable},
		{"feature_results table", r.createFeatureResultsTable},
		{"candidate_thresholds table", r.createCandidatesTable},
		{"fold_assignments table", r.createFoldsTable},
		{"indexes", r.createIndexes},
	}

	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to create %s", step.name))
		}
	}
	log.Printf("[Migration] Schema at version %s", r.version)
	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS threshold_runs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			cohort_hash TEXT NOT NULL,
			assignment_hash TEXT NOT NULL,
			seed BIGINT NOT NULL,
			model TEXT NOT NULL,
			options JSONB NOT NULL,
			feature_count INTEGER NOT NULL,
			selected_count INTEGER NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createFeatureResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS feature_results (
			run_id TEXT NOT NULL REFERENCES threshold_runs(id) ON DELETE CASCADE,
			feature TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			eligible BOOLEAN NOT NULL,
			skip_reason TEXT NOT NULL DEFAULT '',
			skip_detail TEXT NOT NULL DEFAULT '',
			bounds JSONB,
			selected_index INTEGER,
			PRIMARY KEY (run_id, feature)
		)
	`)
	return err
}

func (r *MigrationRunner) createCandidatesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS candidate_thresholds (
			run_id TEXT NOT NULL,
			feature TEXT NOT NULL,
			idx INTEGER NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			percentile DOUBLE PRECISION NOT NULL,
			p_value DOUBLE PRECISION,
			hazard_ratio DOUBLE PRECISION,
			validated BOOLEAN NOT NULL DEFAULT false,
			fit_error TEXT NOT NULL DEFAULT '',
			fold_scores JSONB NOT NULL DEFAULT '[]',
			validation_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, feature, idx),
			FOREIGN KEY (run_id, feature) REFERENCES feature_results(run_id, feature) ON DELETE CASCADE
		)
	`)
	return err
}

func (r *MigrationRunner) createFoldsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fold_assignments (
			run_id TEXT NOT NULL REFERENCES threshold_runs(id) ON DELETE CASCADE,
			repetition INTEGER NOT NULL,
			fold_index INTEGER NOT NULL,
			test_samples JSONB NOT NULL,
			train_samples JSONB NOT NULL,
			PRIMARY KEY (run_id, repetition, fold_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_threshold_runs_created_at ON threshold_runs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_threshold_runs_cohort_hash ON threshold_runs(cohort_hash);
	`)
	return err
}
