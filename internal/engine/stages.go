package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"gocutoff/adapters/stats/grid"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/crossval"
	"gocutoff/internal/errors"
	"gocutoff/internal/scoring"
)

// ComputeBounds runs the bound estimators on every feature
func (e *Engine) ComputeBounds(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeBounds(ctx)
}

// DetermineEligibility flags features whose upper bound reaches the lower bound
func (e *Engine) DetermineEligibility(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.determineEligibility(ctx)
}

// GenerateGrid builds candidate grids for eligible features
func (e *Engine) GenerateGrid(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generateGrid(ctx)
}

// GenerateFolds partitions the cohort once; folds are shared by all features
func (e *Engine) GenerateFolds(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generateFolds(ctx)
}

// Score fits every candidate on the full cohort and on every fold
func (e *Engine) Score(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score(ctx)
}

// Finalize selects one threshold per feature, or none
func (e *Engine) Finalize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalize(ctx)
}

func (e *Engine) computeBounds(ctx context.Context) error {
	if e.stage >= threshold.StageBoundsComputed {
		return nil
	}
	start := time.Now()
	features := e.cohort.Expression.Features()
	states := make([]*featureState, len(features))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, f := range features {
		g.Go(func() error {
			st := &featureState{feature: f}
			b, err := e.estimator.Compute(f, e.columns[i])
			switch {
			case err == nil:
				st.bounds = &b
			case errors.IsInsufficientData(err):
				st.skip = threshold.SkipInsufficientData
				st.detail = err.Error()
			case errors.GetCode(err) == errors.CodeInvalidInput:
				st.skip = threshold.SkipNoBoundSource
				st.detail = err.Error()
			default:
				return errors.Wrapf(err, "failed to compute bounds of feature %s", f)
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.states = states
	e.advance(threshold.StageBoundsComputed, start)
	return nil
}

func (e *Engine) determineEligibility(ctx context.Context) error {
	if e.stage >= threshold.StageEligibilityDetermined {
		return nil
	}
	if err := e.computeBounds(ctx); err != nil {
		return err
	}
	start := time.Now()

	for _, st := range e.states {
		if st.bounds == nil {
			st.eligible = false
			continue
		}
		st.eligible = st.bounds.Eligible()
		if !st.eligible {
			st.skip = threshold.SkipIneligible
			st.detail = fmt.Sprintf("lower bound %.6g exceeds upper bound %.6g", st.bounds.Lower, st.bounds.Upper)
		}
	}
	for _, st := range e.states {
		if st.skip != threshold.SkipNone {
			logger.Debug("Feature %s skipped: %s (%s)", st.feature, st.skip, st.detail)
			featuresTotal.WithLabelValues("skipped_" + string(st.skip)).Inc()
		}
	}

	e.advance(threshold.StageEligibilityDetermined, start)
	return nil
}

func (e *Engine) generateGrid(ctx context.Context) error {
	if e.stage >= threshold.StageGridGenerated {
		return nil
	}
	if err := e.determineEligibility(ctx); err != nil {
		return err
	}
	start := time.Now()

	grids := make([][]threshold.CandidateThreshold, len(e.states))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, st := range e.states {
		if !st.scorable() {
			continue
		}
		g.Go(func() error {
			candidates, err := grid.Generate(st.feature, e.columns[i], *st.bounds, e.opts.StepPercentile)
			if err != nil {
				return err
			}
			grids[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, st := range e.states {
		st.candidates = grids[i]
		if st.scorable() && len(st.candidates) == 0 {
			st.skip = threshold.SkipEmptyGrid
			st.detail = "no candidate between the bounds"
			logger.Debug("Feature %s skipped: %s", st.feature, st.skip)
		}
	}

	e.advance(threshold.StageGridGenerated, start)
	return nil
}

func (e *Engine) generateFolds(ctx context.Context) error {
	if e.stage >= threshold.StageFoldsGenerated {
		return nil
	}
	if err := e.generateGrid(ctx); err != nil {
		return err
	}
	start := time.Now()

	labels, err := crossval.StratificationLabels(e.cohort.Survival)
	if err != nil {
		return err
	}
	samples := e.cohort.Expression.Samples()
	folds, err := crossval.NewPartitioner(e.opts.Seed).Split(samples, labels, e.opts.NbFolds, e.opts.NbCrossValidations)
	if err != nil {
		return err
	}

	rows := make([][]int, len(folds))
	for k, f := range folds {
		ids := f.Test
		if e.opts.FoldSubset == threshold.FoldSubsetTrain {
			ids = f.Train
		}
		rows[k] = make([]int, len(ids))
		for j, id := range ids {
			idx, ok := e.cohort.Expression.SampleIndex(id)
			if !ok {
				return errors.InternalError(fmt.Sprintf("fold %s references unknown sample %s", f.ID(), id))
			}
			rows[k][j] = idx
		}
	}

	e.folds = folds
	e.foldRows = rows
	e.assignment = crossval.AssignmentHash(folds)
	logger.Info("Generated %d folds (seed=%d, assignment=%s)", len(folds), e.opts.Seed, e.assignment)
	e.advance(threshold.StageFoldsGenerated, start)
	return nil
}

func (e *Engine) score(ctx context.Context) error {
	if e.stage >= threshold.StageScored {
		return nil
	}
	if err := e.generateFolds(ctx); err != nil {
		return err
	}
	start := time.Now()
	scorer := e.newScorer()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, st := range e.states {
		if !st.scorable() {
			continue
		}
		full := scoring.Subset{Values: e.columns[i], Durations: e.durations, Events: e.events}
		subsets := make([]scoring.Subset, len(e.foldRows))
		for k, rows := range e.foldRows {
			subsets[k] = full.Select(rows)
		}

		for c := range st.candidates {
			cand := &st.candidates[c]
			cand.Score = nil
			cand.FoldScores = make([]threshold.ThresholdScore, len(subsets))
			cand.ValidationRate = 0

			target := scoring.Target{Feature: string(st.feature), Candidate: cand.Index}

			g.Go(func() error {
				s := scorer.Score(gctx, target, full, cand.Value)
				cand.Score = &s
				return nil
			})
			for k := range subsets {
				foldTarget := target
				foldTarget.Fold = e.folds[k].ID()
				g.Go(func() error {
					cand.FoldScores[k] = scorer.Score(gctx, foldTarget, subsets[k], cand.Value)
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "scoring interrupted")
	}

	for _, st := range e.states {
		if !st.scorable() {
			continue
		}
		failed := 0
		for c := range st.candidates {
			cand := &st.candidates[c]
			if len(cand.FoldScores) > 0 {
				cand.ValidationRate = float64(cand.ValidatedFolds()) / float64(len(cand.FoldScores))
			}
			if cand.Score.Failed() {
				failed++
			}
			for _, fs := range cand.FoldScores {
				if fs.Failed() {
					failed++
				}
			}
		}
		if failed > 0 {
			logger.Warn("Feature %s: %d of %d fits failed", st.feature, failed,
				len(st.candidates)*(1+len(e.folds)))
		}
	}

	e.advance(threshold.StageScored, start)
	return nil
}

func (e *Engine) finalize(ctx context.Context) error {
	if e.stage >= threshold.StageFinalized {
		return nil
	}
	if err := e.score(ctx); err != nil {
		return err
	}
	start := time.Now()

	selected := 0
	for _, st := range e.states {
		if !st.scorable() {
			st.selection = threshold.Selection{}
			continue
		}
		st.selection = selectCandidate(st.candidates, e.opts.Policy)
		if st.selection.Found {
			selected++
			featuresTotal.WithLabelValues("selected").Inc()
		} else {
			featuresTotal.WithLabelValues("none_found").Inc()
		}
	}

	e.runID = core.NewRunID()
	e.createdAt = core.Now()
	logger.Info("Run %s finalized: %d/%d features with a threshold (policy=%s, model=%s)",
		e.runID, selected, len(e.states), e.opts.Policy, e.model.Name())
	e.advance(threshold.StageFinalized, start)
	return nil
}

func (e *Engine) advance(to threshold.Stage, start time.Time) {
	e.stage = to
	stageDuration.WithLabelValues(to.String()).Observe(time.Since(start).Seconds())
}
