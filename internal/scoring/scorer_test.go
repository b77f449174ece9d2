package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gocutoff/adapters/survival"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Name() string { return "mock" }

func (m *mockModel) Fit(ctx context.Context, groups, durations []float64, events []bool) (ports.SurvivalFit, error) {
	args := m.Called(groups, durations, events)
	return args.Get(0).(ports.SurvivalFit), args.Error(1)
}

// blockingModel never returns on its own and ignores its context
type blockingModel struct {
	release chan struct{}
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) Fit(context.Context, []float64, []float64, []bool) (ports.SurvivalFit, error) {
	<-m.release
	return ports.SurvivalFit{PValue: 0.01, HazardRatio: 2}, nil
}

func subset() Subset {
	return Subset{
		Values:    []float64{1, 2, 3, 4, 5, 6},
		Durations: []float64{10, 9, 8, 3, 2, 1},
		Events:    []bool{true, false, true, true, true, true},
	}
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0, 1, 1, 1}, Split([]float64{1, 2, 3, 4, 5, 6}, 3))
	assert.Equal(t, []float64{0, 0}, Split([]float64{2, 2}, 2), "values equal to the threshold stay in group 0")
}

func TestSubset_Select(t *testing.T) {
	s := subset().Select([]int{0, 5})
	assert.Equal(t, []float64{1, 6}, s.Values)
	assert.Equal(t, []float64{10, 1}, s.Durations)
	assert.Equal(t, []bool{true, true}, s.Events)
	assert.Equal(t, 2, s.Len())
}

func TestScore_AppliesValidationRule(t *testing.T) {
	s := subset()
	groups := []float64{0, 0, 0, 1, 1, 1}

	cases := []struct {
		name      string
		fit       ports.SurvivalFit
		validated bool
	}{
		{"significant risk", ports.SurvivalFit{PValue: 0.01, HazardRatio: 2.5}, true},
		{"protective", ports.SurvivalFit{PValue: 0.01, HazardRatio: 0.4}, false},
		{"not significant", ports.SurvivalFit{PValue: 0.05, HazardRatio: 3}, false},
		{"unit hazard", ports.SurvivalFit{PValue: 0.001, HazardRatio: 1.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockModel{}
			m.On("Fit", groups, s.Durations, s.Events).Return(tc.fit, nil).Once()

			score := NewScorer(m, time.Second, 2).Score(context.Background(), Target{}, s, 3)
			assert.Equal(t, tc.validated, score.Validated)
			assert.Equal(t, tc.fit.PValue, score.PValue)
			assert.Equal(t, tc.fit.HazardRatio, score.HazardRatio)
			assert.Empty(t, score.Error)
			m.AssertExpectations(t)
		})
	}
}

func TestScore_FitErrorMarksCandidateInvalid(t *testing.T) {
	m := &mockModel{}
	m.On("Fit", mock.Anything, mock.Anything, mock.Anything).
		Return(ports.SurvivalFit{}, errors.ModelFitError("did not converge", nil))

	score := NewScorer(m, time.Second, 1).Score(context.Background(), Target{}, subset(), 3)
	assert.True(t, math.IsNaN(score.PValue))
	assert.True(t, math.IsNaN(score.HazardRatio))
	assert.False(t, score.Validated)
	assert.Contains(t, score.Error, "did not converge")
}

func TestScore_FailureNamesFeatureCandidateAndFold(t *testing.T) {
	m := &mockModel{}
	m.On("Fit", mock.Anything, mock.Anything, mock.Anything).
		Return(ports.SurvivalFit{}, errors.ModelFitError("did not converge", nil))
	scorer := NewScorer(m, time.Second, 1)

	score := scorer.Score(context.Background(), Target{Feature: "TP53", Candidate: 4, Fold: "r1f2"}, subset(), 3)
	assert.Contains(t, score.Error, "feature=TP53 candidate=4 fold=r1f2")

	score = scorer.Score(context.Background(), Target{Feature: "TP53", Candidate: 4}, subset(), 3)
	assert.Contains(t, score.Error, "feature=TP53 candidate=4")
	assert.NotContains(t, score.Error, "fold=")
}

func TestScore_EmptyGroupWithRealModel(t *testing.T) {
	// Threshold at the maximum leaves group 1 empty
	for _, m := range []ports.SurvivalModel{survival.NewCoxModel(), survival.NewLogRankModel()} {
		score := NewScorer(m, time.Second, 1).Score(context.Background(), Target{}, subset(), 6)
		assert.True(t, score.Failed(), m.Name())
		assert.False(t, score.Validated, m.Name())
		assert.Contains(t, score.Error, "group is empty", m.Name())
	}
}

func TestScore_TimeoutIsModelFitError(t *testing.T) {
	m := &blockingModel{release: make(chan struct{})}
	defer close(m.release)

	start := time.Now()
	score := NewScorer(m, 20*time.Millisecond, 1).Score(context.Background(), Target{}, subset(), 3)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, score.Failed())
	assert.False(t, score.Validated)
	assert.Contains(t, score.Error, "exceeded")
}

func TestScore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &blockingModel{release: make(chan struct{})}
	defer close(m.release)

	score := NewScorer(m, time.Second, 1).Score(ctx, Target{}, subset(), 3)
	assert.True(t, score.Failed())
	require.NotEmpty(t, score.Error)
}
