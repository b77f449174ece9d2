package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gocutoff/adapters/stats/bounds"
	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal"
	"gocutoff/internal/errors"
	"gocutoff/internal/scoring"
	"gocutoff/ports"
)

var logger = internal.NewComponentLogger("Engine")

// featureState is the owned, per-feature accumulation of derived results
type featureState struct {
	feature    core.FeatureKey
	bounds     *threshold.FeatureBounds
	eligible   bool
	skip       threshold.SkipReason
	detail     string
	candidates []threshold.CandidateThreshold
	selection  threshold.Selection
}

// scorable reports whether the feature takes part in grid, scoring and selection
func (s *featureState) scorable() bool {
	return s.eligible && s.skip == threshold.SkipNone
}

// Engine drives bound estimation, grid generation, cross-validated scoring
// and selection for every feature of a cohort. Stages advance in order; each
// stage method computes missing prerequisites first. Changing an input
// invalidates every stage downstream of it.
type Engine struct {
	mu sync.Mutex

	cohort    *cohort.Cohort
	columns   [][]float64
	durations []float64
	events    []bool

	model     ports.SurvivalModel
	opts      threshold.Options
	estimator *bounds.Estimator

	stage      threshold.Stage
	states     []*featureState
	folds      []threshold.Fold
	foldRows   [][]int
	assignment core.AssignmentHash
	runID      core.RunID
	createdAt  core.Timestamp
}

// New validates options and prepares an engine over a read-only cohort
func New(c *cohort.Cohort, model ports.SurvivalModel, opts threshold.Options) (*Engine, error) {
	if c == nil || c.Size() == 0 {
		return nil, errors.InvalidInput("cohort is empty")
	}
	if model == nil {
		return nil, errors.ConfigurationError("survival model is required")
	}

	opts = opts.WithDefaults()
	estimator, err := validateOptions(opts)
	if err != nil {
		return nil, err
	}

	features := c.Expression.Features()
	columns := make([][]float64, len(features))
	for i, f := range features {
		col, err := c.Expression.Column(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read feature %s", f)
		}
		columns[i] = col
	}

	return &Engine{
		cohort:    c,
		columns:   columns,
		durations: c.Durations(),
		events:    c.Events(),
		model:     model,
		opts:      opts,
		estimator: estimator,
		stage:     threshold.StageInitialized,
	}, nil
}

func validateOptions(opts threshold.Options) (*bounds.Estimator, error) {
	if opts.StepPercentile <= 0 || math.IsNaN(opts.StepPercentile) {
		return nil, errors.ConfigurationError(fmt.Sprintf("step_percentile must be positive, got %v", opts.StepPercentile))
	}
	if opts.NbFolds < 2 {
		return nil, errors.ConfigurationError(fmt.Sprintf("nb_folds must be at least 2, got %d", opts.NbFolds))
	}
	if opts.NbCrossValidations < 1 {
		return nil, errors.ConfigurationError(fmt.Sprintf("nb_cross_validations must be at least 1, got %d", opts.NbCrossValidations))
	}
	if opts.FitTimeout < 0 {
		return nil, errors.ConfigurationError("fit_timeout must not be negative")
	}
	if !opts.Policy.Valid() {
		return nil, errors.ConfigurationError(fmt.Sprintf("unknown selection_policy %q", opts.Policy))
	}
	if !opts.FoldSubset.Valid() {
		return nil, errors.ConfigurationError(fmt.Sprintf("unknown fold_subset %q", opts.FoldSubset))
	}
	return bounds.NewEstimator(opts)
}

// Run drives every stage and returns the finalized result
func (e *Engine) Run(ctx context.Context) (*threshold.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.finalize(ctx); err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// SetOptions replaces the options and resets the engine to Initialized
func (e *Engine) SetOptions(opts threshold.Options) error {
	opts = opts.WithDefaults()
	estimator, err := validateOptions(opts)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
	e.estimator = estimator
	e.invalidate(threshold.StageInitialized)
	logger.Info("Options changed, reset to %s", e.stage)
	return nil
}

// SetSeed changes the fold seed; folds and everything after them are recomputed
func (e *Engine) SetSeed(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seed == e.opts.Seed {
		return
	}
	e.opts.Seed = seed
	e.invalidate(threshold.StageGridGenerated)
	logger.Info("Seed changed to %d, stage now %s", seed, e.stage)
}

// SetModel swaps the survival model; scores and selections are recomputed
func (e *Engine) SetModel(model ports.SurvivalModel) error {
	if model == nil {
		return errors.ConfigurationError("survival model is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = model
	e.invalidate(threshold.StageFoldsGenerated)
	logger.Info("Model changed to %s, stage now %s", model.Name(), e.stage)
	return nil
}

// Options returns the effective options
func (e *Engine) Options() threshold.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// invalidate drops every derived result produced after stage to
func (e *Engine) invalidate(to threshold.Stage) {
	if e.stage > to {
		e.stage = to
	}
	if to < threshold.StageBoundsComputed {
		e.states = nil
	}
	if to < threshold.StageGridGenerated {
		for _, s := range e.states {
			s.candidates = nil
		}
	}
	if to < threshold.StageFoldsGenerated {
		e.folds = nil
		e.foldRows = nil
		e.assignment = ""
	}
	if to < threshold.StageScored {
		for _, s := range e.states {
			for i := range s.candidates {
				s.candidates[i].Score = nil
				s.candidates[i].FoldScores = nil
				s.candidates[i].ValidationRate = 0
			}
		}
	}
	if to < threshold.StageFinalized {
		for _, s := range e.states {
			s.selection = threshold.Selection{}
		}
		e.runID = ""
	}
}

func (e *Engine) newScorer() *scoring.Scorer {
	return scoring.NewScorer(e.model, e.opts.FitTimeout, e.opts.Workers)
}
