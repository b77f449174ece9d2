package engine

import (
	"fmt"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
)

// Stage returns the current stage
func (e *Engine) Stage() threshold.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// Eligibility returns the eligibility flag of every feature once determined
func (e *Engine) Eligibility() map[core.FeatureKey]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[core.FeatureKey]bool, len(e.states))
	if e.stage < threshold.StageEligibilityDetermined {
		return out
	}
	for _, st := range e.states {
		out[st.feature] = st.eligible
	}
	return out
}

// Features returns the per-feature results computed so far
func (e *Engine) Features() []threshold.FeatureResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]threshold.FeatureResult, len(e.states))
	for i, st := range e.states {
		out[i] = st.result()
	}
	return out
}

// Details returns one feature's bounds, candidate table and selection
func (e *Engine) Details(feature core.FeatureKey) (threshold.FeatureResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup(feature)
	if err != nil {
		return threshold.FeatureResult{}, err
	}
	return st.result(), nil
}

// Candidates returns the candidate table of one feature
func (e *Engine) Candidates(feature core.FeatureKey) ([]threshold.CandidateThreshold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup(feature)
	if err != nil {
		return nil, err
	}
	return copyCandidates(st.candidates), nil
}

// Selection returns the final selection of one feature. It fails until
// the engine is finalized.
func (e *Engine) Selection(feature core.FeatureKey) (threshold.Selection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage < threshold.StageFinalized {
		return threshold.Selection{}, errors.InvalidInput(fmt.Sprintf("selection is not available at stage %s", e.stage))
	}
	st, err := e.lookup(feature)
	if err != nil {
		return threshold.Selection{}, err
	}
	return copySelection(st.selection), nil
}

// Folds returns the raw fold assignment
func (e *Engine) Folds() []threshold.Fold {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyFolds(e.folds)
}

// Result returns a snapshot of the finalized run
func (e *Engine) Result() (*threshold.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage < threshold.StageFinalized {
		return nil, errors.InvalidInput(fmt.Sprintf("run is not finalized (stage %s)", e.stage))
	}
	return e.snapshot(), nil
}

func (e *Engine) snapshot() *threshold.Result {
	features := make([]threshold.FeatureResult, len(e.states))
	for i, st := range e.states {
		features[i] = st.result()
	}
	return &threshold.Result{
		RunID:          e.runID,
		CreatedAt:      e.createdAt,
		CohortHash:     e.cohort.Hash(),
		AssignmentHash: e.assignment,
		Seed:           e.opts.Seed,
		Options:        e.opts,
		Features:       features,
		Folds:          copyFolds(e.folds),
	}
}

func (e *Engine) lookup(feature core.FeatureKey) (*featureState, error) {
	if !e.cohort.Expression.HasFeature(feature) {
		return nil, errors.NotFound("feature").ForFeature(string(feature))
	}
	for _, st := range e.states {
		if st.feature == feature {
			return st, nil
		}
	}
	// Known feature, bounds not computed yet
	return &featureState{feature: feature}, nil
}

func (s *featureState) result() threshold.FeatureResult {
	r := threshold.FeatureResult{
		Feature:    s.feature,
		Eligible:   s.eligible,
		SkipReason: s.skip,
		SkipDetail: s.detail,
		Candidates: copyCandidates(s.candidates),
		Selection:  copySelection(s.selection),
	}
	if s.bounds != nil {
		b := *s.bounds
		b.LowerSources = append([]threshold.BoundSource(nil), s.bounds.LowerSources...)
		b.UpperSources = append([]threshold.BoundSource(nil), s.bounds.UpperSources...)
		r.Bounds = &b
	}
	return r
}

func copyCandidate(c threshold.CandidateThreshold) threshold.CandidateThreshold {
	if c.Score != nil {
		s := *c.Score
		c.Score = &s
	}
	if c.FoldScores != nil {
		c.FoldScores = append([]threshold.ThresholdScore(nil), c.FoldScores...)
	}
	return c
}

func copyCandidates(in []threshold.CandidateThreshold) []threshold.CandidateThreshold {
	if in == nil {
		return nil
	}
	out := make([]threshold.CandidateThreshold, len(in))
	for i, c := range in {
		out[i] = copyCandidate(c)
	}
	return out
}

func copySelection(s threshold.Selection) threshold.Selection {
	if s.Candidate != nil {
		c := copyCandidate(*s.Candidate)
		s.Candidate = &c
	}
	return s
}

func copyFolds(in []threshold.Fold) []threshold.Fold {
	if in == nil {
		return nil
	}
	out := make([]threshold.Fold, len(in))
	for i, f := range in {
		f.Train = append([]core.SampleID(nil), f.Train...)
		f.Test = append([]core.SampleID(nil), f.Test...)
		out[i] = f
	}
	return out
}
