package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gocutoff/adapters/excel"
	"gocutoff/adapters/stats/bounds"
	"gocutoff/adapters/stats/frequency"
	"gocutoff/adapters/survival"
	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/config"
	"gocutoff/internal/engine"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// Dataset is an aligned tumoral cohort plus everything derived from the input files
type Dataset struct {
	Cohort      *cohort.Cohort
	Expression  *cohort.ExpressionMatrix
	Consistency cohort.ConsistencyStats
	References  map[core.FeatureKey]float64
}

// LoadDataset reads the expression and clinical tables, aligns them on sample
// identifiers and, when a normal-tissue file is configured, derives reference thresholds.
func LoadDataset(data config.DataConfig, eng config.EngineConfig) (*Dataset, error) {
	if data.ExpressionFile == "" || data.ClinicalFile == "" {
		return nil, errors.ConfigInvalid("expression_file and clinical_file are required")
	}

	expression, err := excel.LoadExpression(data.ExpressionFile, data.Sheet, data.SampleCol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load expression table")
	}
	clinical, err := excel.LoadClinical(data.ClinicalFile, data.Sheet, excel.ClinicalColumns{
		Sample:   data.SampleCol,
		Duration: data.DurationCol,
		Event:    data.EventCol,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load clinical table")
	}

	c, stats, err := cohort.Align(expression, clinical)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	log.Printf("[Dataset] %d common samples (%d expression only, %d survival only)",
		stats.CommonSamples, len(stats.ExpressionOnly), len(stats.SurvivalOnly))

	ds := &Dataset{Cohort: c, Expression: expression, Consistency: stats}

	if data.NormalFile != "" {
		normal, err := excel.LoadExpression(data.NormalFile, data.Sheet, data.SampleCol)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load normal-tissue table")
		}
		method := bounds.ReferenceMethod(eng.ReferenceMethod)
		if !method.Valid() {
			return nil, errors.ConfigInvalid(fmt.Sprintf("unknown reference method %q", eng.ReferenceMethod))
		}
		ds.References, err = bounds.ReferenceThresholds(normal, method, eng.ReferenceNStd)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		log.Printf("[Dataset] Derived %d reference thresholds (%s)", len(ds.References), method)
	}
	return ds, nil
}

// RunRecord is a finished run with the extras shown in reports
type RunRecord struct {
	Result      *threshold.Result            `json:"result"`
	Model       string                       `json:"model"`
	Consistency *cohort.ConsistencyStats     `json:"consistency,omitempty"`
	Frequencies []frequency.FeatureFrequency `json:"frequencies,omitempty"`
}

// ThresholdService runs the engine on a dataset and keeps finished runs.
// Runs are always held in memory; with a repository they are also persisted.
type ThresholdService struct {
	repo ports.RunRepository

	mu    sync.RWMutex
	runs  map[core.RunID]*RunRecord
	order []core.RunID
}

// NewThresholdService creates a service; repo may be nil
func NewThresholdService(repo ports.RunRepository) *ThresholdService {
	return &ThresholdService{
		repo: repo,
		runs: make(map[core.RunID]*RunRecord),
	}
}

// Execute runs the engine end to end on the dataset
func (s *ThresholdService) Execute(ctx context.Context, ds *Dataset, modelName string, opts threshold.Options) (*RunRecord, error) {
	model, err := survival.New(modelName)
	if err != nil {
		return nil, err
	}

	opts.MinReferenceThreshold = mergeReferences(ds.References, opts.MinReferenceThreshold)

	eng, err := engine.New(ds.Cohort, model, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[ThresholdService] Run %s selected %d of %d thresholds in %s",
		result.RunID, result.SelectedCount(), len(result.Features), time.Since(start))

	consistency := ds.Consistency
	record := &RunRecord{
		Result:      result,
		Model:       model.Name(),
		Consistency: &consistency,
		Frequencies: frequency.Compute(ds.Expression, frequency.SelectedThresholds(result)),
	}

	s.mu.Lock()
	s.runs[result.RunID] = record
	s.order = append(s.order, result.RunID)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, result, record.Model); err != nil {
			return record, errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to persist run %s", result.RunID))
		}
	}
	return record, nil
}

// Get returns a run from memory, falling back to the repository
func (s *ThresholdService) Get(ctx context.Context, id core.RunID) (*RunRecord, error) {
	s.mu.RLock()
	record, ok := s.runs[id]
	s.mu.RUnlock()
	if ok {
		return record, nil
	}

	if s.repo == nil {
		return nil, errors.NotFound(fmt.Sprintf("run %s", id))
	}
	result, err := s.repo.GetRun(ctx, id)
	if err != nil {
		if core.IsNotFoundError(err) {
			return nil, errors.WithCode(errors.CodeNotFound, err)
		}
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	return &RunRecord{Result: result}, nil
}

// List returns run summaries, newest first
func (s *ThresholdService) List(ctx context.Context, limit, offset int) ([]ports.RunSummary, error) {
	if s.repo != nil {
		runs, err := s.repo.ListRuns(ctx, limit, offset)
		if err != nil {
			return nil, errors.WithCode(errors.CodeDatabaseError, err)
		}
		return runs, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.RunSummary, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.runs[s.order[i]]
		out = append(out, ports.RunSummary{
			RunID:         r.Result.RunID,
			CreatedAt:     r.Result.CreatedAt.Time(),
			CohortHash:    r.Result.CohortHash,
			Seed:          r.Result.Seed,
			Model:         r.Model,
			FeatureCount:  len(r.Result.Features),
			SelectedCount: r.Result.SelectedCount(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return []ports.RunSummary{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// mergeReferences overlays explicit reference thresholds on derived ones
func mergeReferences(derived, explicit map[core.FeatureKey]float64) map[core.FeatureKey]float64 {
	if len(derived) == 0 {
		return explicit
	}
	out := make(map[core.FeatureKey]float64, len(derived)+len(explicit))
	for k, v := range derived {
		out[k] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}
