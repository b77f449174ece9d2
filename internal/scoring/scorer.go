package scoring

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// Subset is one feature column with its aligned follow-up
type Subset struct {
	Values    []float64
	Durations []float64
	Events    []bool
}

// Select returns the rows at the given positions
func (s Subset) Select(indices []int) Subset {
	out := Subset{
		Values:    make([]float64, len(indices)),
		Durations: make([]float64, len(indices)),
		Events:    make([]bool, len(indices)),
	}
	for i, idx := range indices {
		out.Values[i] = s.Values[idx]
		out.Durations[i] = s.Durations[idx]
		out.Events[i] = s.Events[idx]
	}
	return out
}

// Len returns the number of rows
func (s Subset) Len() int {
	return len(s.Values)
}

// Split labels samples above the threshold as group 1 and the rest as group 0
func Split(values []float64, cut float64) []float64 {
	groups := make([]float64, len(values))
	for i, v := range values {
		if v > cut {
			groups[i] = 1
		}
	}
	return groups
}

// Scorer evaluates candidate thresholds with a survival model. Every fit
// runs under a timeout, and the number of concurrent fits is bounded.
type Scorer struct {
	model   ports.SurvivalModel
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewScorer creates a scorer. A non-positive maxConcurrent means one fit at a time.
func NewScorer(model ports.SurvivalModel, timeout time.Duration, maxConcurrent int) *Scorer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scorer{
		model:   model,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Target identifies the fit a score belongs to. An empty Fold means the
// full dataset.
type Target struct {
	Feature   string
	Candidate int
	Fold      string
}

func (t Target) tag(err *errors.AppError) *errors.AppError {
	err = err.ForFeature(t.Feature).ForCandidate(t.Candidate)
	if t.Fold != "" {
		err = err.ForFold(t.Fold)
	}
	return err
}

// Score groups the subset at cut and fits the survival model. A failed or
// timed-out fit yields a NaN score carrying the error tagged with target;
// it is never returned.
func (s *Scorer) Score(ctx context.Context, target Target, subset Subset, cut float64) threshold.ThresholdScore {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return threshold.FailedScore(target.tag(errors.ModelFitError("scoring cancelled", err)))
	}
	defer s.sem.Release(1)

	start := time.Now()
	fit, err := s.fit(ctx, Split(subset.Values, cut), subset.Durations, subset.Events)
	fitDuration.WithLabelValues(s.model.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := outcomeFailed
		if stderrors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeTimeout
		}
		fitsTotal.WithLabelValues(s.model.Name(), outcome).Inc()
		appErr, ok := err.(*errors.AppError)
		if !ok || appErr.Code != errors.CodeModelFitError {
			appErr = errors.ModelFitError("survival fit failed", err)
		}
		return threshold.FailedScore(target.tag(appErr))
	}

	score := threshold.NewScore(fit.PValue, fit.HazardRatio)
	if score.Validated {
		fitsTotal.WithLabelValues(s.model.Name(), outcomeValidated).Inc()
	} else {
		fitsTotal.WithLabelValues(s.model.Name(), outcomeRejected).Inc()
	}
	return score
}

type fitResult struct {
	fit ports.SurvivalFit
	err error
}

// fit runs the model in its own goroutine so a fit that ignores its
// context still cannot hold the caller past the timeout.
func (s *Scorer) fit(ctx context.Context, groups, durations []float64, events []bool) (ports.SurvivalFit, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan fitResult, 1)
	go func() {
		fit, err := s.model.Fit(ctx, groups, durations, events)
		done <- fitResult{fit: fit, err: err}
	}()

	select {
	case r := <-done:
		return r.fit, r.err
	case <-ctx.Done():
		return ports.SurvivalFit{}, errors.ModelFitError(
			fmt.Sprintf("%s fit exceeded %s", s.model.Name(), s.timeout), ctx.Err())
	}
}
