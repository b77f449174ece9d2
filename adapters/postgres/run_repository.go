package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// RunRepositoryImpl implements RunRepository for PostgreSQL
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db}
}

type runRow struct {
	ID             string    `db:"id"`
	CreatedAt      time.Time `db:"created_at"`
	CohortHash     string    `db:"cohort_hash"`
	AssignmentHash string    `db:"assignment_hash"`
	Seed           int64     `db:"seed"`
	Model          string    `db:"model"`
	Options        []byte    `db:"options"`
}

type featureRow struct {
	Feature       string        `db:"feature"`
	Eligible      bool          `db:"eligible"`
	SkipReason    string        `db:"skip_reason"`
	SkipDetail    string        `db:"skip_detail"`
	Bounds        []byte        `db:"bounds"`
	SelectedIndex sql.NullInt64 `db:"selected_index"`
}

type candidateRow struct {
	Feature        string          `db:"feature"`
	Index          int             `db:"idx"`
	Threshold      float64         `db:"threshold"`
	Percentile     float64         `db:"percentile"`
	PValue         sql.NullFloat64 `db:"p_value"`
	HazardRatio    sql.NullFloat64 `db:"hazard_ratio"`
	Validated      bool            `db:"validated"`
	FitError       string          `db:"fit_error"`
	FoldScores     []byte          `db:"fold_scores"`
	ValidationRate float64         `db:"validation_rate"`
}

type foldRow struct {
	Repetition int    `db:"repetition"`
	FoldIndex  int    `db:"fold_index"`
	Test       []byte `db:"test_samples"`
	Train      []byte `db:"train_samples"`
}

// SaveRun stores a finalized run in one transaction
func (r *RunRepositoryImpl) SaveRun(ctx context.Context, result *threshold.Result, model string) error {
	options, err := json.Marshal(result.Options)
	if err != nil {
		return errors.Wrap(err, "failed to encode run options")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threshold_runs (id, created_at, cohort_hash, assignment_hash, seed, model, options, feature_count, selected_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, string(result.RunID), result.CreatedAt.Time(), string(result.CohortHash), string(result.AssignmentHash),
		result.Seed, model, options, len(result.Features), result.SelectedCount())
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to insert run %s", result.RunID))
	}

	for ordinal, f := range result.Features {
		if err := r.saveFeature(ctx, tx, result.RunID, ordinal, f); err != nil {
			return err
		}
	}

	for _, fold := range result.Folds {
		test, _ := json.Marshal(fold.Test)
		train, _ := json.Marshal(fold.Train)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fold_assignments (run_id, repetition, fold_index, test_samples, train_samples)
			VALUES ($1, $2, $3, $4, $5)
		`, string(result.RunID), fold.Repetition, fold.Index, test, train)
		if err != nil {
			return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to insert fold %s", fold.ID()))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	return nil
}

func (r *RunRepositoryImpl) saveFeature(ctx context.Context, tx *sqlx.Tx, runID core.RunID, ordinal int, f threshold.FeatureResult) error {
	var bounds []byte
	if f.Bounds != nil {
		bounds, _ = json.Marshal(f.Bounds)
	}
	var selected sql.NullInt64
	if f.Selection.Found && f.Selection.Candidate != nil {
		selected = sql.NullInt64{Int64: int64(f.Selection.Candidate.Index), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO feature_results (run_id, feature, ordinal, eligible, skip_reason, skip_detail, bounds, selected_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(runID), string(f.Feature), ordinal, f.Eligible, string(f.SkipReason), f.SkipDetail, bounds, selected)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to insert feature %s", f.Feature))
	}

	for _, c := range f.Candidates {
		foldScores, err := json.Marshal(c.FoldScores)
		if err != nil {
			return errors.Wrap(err, "failed to encode fold scores")
		}
		if c.FoldScores == nil {
			foldScores = []byte("[]")
		}
		var pValue, hazard sql.NullFloat64
		var validated bool
		var fitError string
		if c.Score != nil {
			pValue, hazard = nullFloat(c.Score.PValue), nullFloat(c.Score.HazardRatio)
			validated, fitError = c.Score.Validated, c.Score.Error
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidate_thresholds (run_id, feature, idx, threshold, percentile, p_value, hazard_ratio, validated, fit_error, fold_scores, validation_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, string(runID), string(f.Feature), c.Index, c.Value, c.Percentile, pValue, hazard, validated, fitError, foldScores, c.ValidationRate)
		if err != nil {
			return errors.WithCode(errors.CodeDatabaseError,
				errors.Wrapf(err, "failed to insert candidate %d of %s", c.Index, f.Feature))
		}
	}
	return nil
}

// GetRun loads a run with its features, candidates and folds
func (r *RunRepositoryImpl) GetRun(ctx context.Context, runID core.RunID) (*threshold.Result, error) {
	var run runRow
	err := r.db.GetContext(ctx, &run, `
		SELECT id, created_at, cohort_hash, assignment_hash, seed, model, options
		FROM threshold_runs
		WHERE id = $1
	`, string(runID))
	if err == sql.ErrNoRows {
		return nil, core.NewNotFoundError("run", string(runID))
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}

	result := &threshold.Result{
		RunID:          core.RunID(run.ID),
		CreatedAt:      core.NewTimestamp(run.CreatedAt),
		CohortHash:     core.CohortHash(run.CohortHash),
		AssignmentHash: core.AssignmentHash(run.AssignmentHash),
		Seed:           run.Seed,
	}
	if err := json.Unmarshal(run.Options, &result.Options); err != nil {
		return nil, errors.Wrap(err, "failed to decode run options")
	}

	var features []featureRow
	if err := r.db.SelectContext(ctx, &features, `
		SELECT feature, eligible, skip_reason, skip_detail, bounds, selected_index
		FROM feature_results
		WHERE run_id = $1
		ORDER BY ordinal
	`, string(runID)); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}

	var candidates []candidateRow
	if err := r.db.SelectContext(ctx, &candidates, `
		SELECT feature, idx, threshold, percentile, p_value, hazard_ratio, validated, fit_error, fold_scores, validation_rate
		FROM candidate_thresholds
		WHERE run_id = $1
		ORDER BY feature, idx
	`, string(runID)); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	byFeature := make(map[string][]threshold.CandidateThreshold)
	for _, c := range candidates {
		cand, err := c.toDomain()
		if err != nil {
			return nil, err
		}
		byFeature[c.Feature] = append(byFeature[c.Feature], cand)
	}

	for _, fr := range features {
		f := threshold.FeatureResult{
			Feature:    core.FeatureKey(fr.Feature),
			Eligible:   fr.Eligible,
			SkipReason: threshold.SkipReason(fr.SkipReason),
			SkipDetail: fr.SkipDetail,
			Candidates: byFeature[fr.Feature],
		}
		if len(fr.Bounds) > 0 {
			var b threshold.FeatureBounds
			if err := json.Unmarshal(fr.Bounds, &b); err != nil {
				return nil, errors.Wrapf(err, "failed to decode bounds of %s", fr.Feature)
			}
			f.Bounds = &b
		}
		if fr.SelectedIndex.Valid {
			idx := int(fr.SelectedIndex.Int64)
			if idx < 0 || idx >= len(f.Candidates) {
				return nil, errors.InternalError(fmt.Sprintf("selected index %d out of range for %s", idx, fr.Feature))
			}
			chosen := f.Candidates[idx]
			f.Selection = threshold.Selection{Found: true, Candidate: &chosen}
		}
		result.Features = append(result.Features, f)
	}

	var folds []foldRow
	if err := r.db.SelectContext(ctx, &folds, `
		SELECT repetition, fold_index, test_samples, train_samples
		FROM fold_assignments
		WHERE run_id = $1
		ORDER BY repetition, fold_index
	`, string(runID)); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	for _, fr := range folds {
		fold := threshold.Fold{Repetition: fr.Repetition, Index: fr.FoldIndex}
		if err := json.Unmarshal(fr.Test, &fold.Test); err != nil {
			return nil, errors.Wrap(err, "failed to decode fold test samples")
		}
		if err := json.Unmarshal(fr.Train, &fold.Train); err != nil {
			return nil, errors.Wrap(err, "failed to decode fold train samples")
		}
		fold.TestSize, fold.TrainSize = len(fold.Test), len(fold.Train)
		result.Folds = append(result.Folds, fold)
	}

	return result, nil
}

// ListRuns returns run summaries, newest first
func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit, offset int) ([]ports.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []ports.RunSummary{}
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, created_at, cohort_hash, seed, model, feature_count, selected_count
		FROM threshold_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	return runs, nil
}

func (c candidateRow) toDomain() (threshold.CandidateThreshold, error) {
	cand := threshold.CandidateThreshold{
		Feature:        core.FeatureKey(c.Feature),
		Index:          c.Index,
		Value:          c.Threshold,
		Percentile:     c.Percentile,
		ValidationRate: c.ValidationRate,
	}
	if c.PValue.Valid || c.HazardRatio.Valid || c.FitError != "" || c.Validated {
		score := threshold.ThresholdScore{
			PValue:      floatOrNaN(c.PValue),
			HazardRatio: floatOrNaN(c.HazardRatio),
			Validated:   c.Validated,
			Error:       c.FitError,
		}
		cand.Score = &score
	}
	if len(c.FoldScores) > 0 {
		var scores []threshold.ThresholdScore
		if err := json.Unmarshal(c.FoldScores, &scores); err != nil {
			return cand, errors.Wrap(err, "failed to decode fold scores")
		}
		if len(scores) > 0 {
			cand.FoldScores = scores
		}
	}
	return cand, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
