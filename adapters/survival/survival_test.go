package survival

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// strongEffect: group 1 fails early, group 0 mostly survives longer.
// Events interleave so the Cox likelihood has a finite maximum.
func strongEffect() (groups, durations []float64, events []bool) {
	groups = []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	durations = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 3, 8, 12, 14, 16, 18, 20, 22, 24, 26}
	events = []bool{
		true, true, true, true, true, true, true, true, true, true,
		true, true, true, true, true, true, false, true, true, false,
	}
	return
}

// freireich is the 6-MP leukemia remission trial (Freireich et al. 1963):
// group 1 is placebo, group 0 is 6-MP. R reports coxph (Efron ties)
// coef 1.5721, exp(coef) 4.8169, se 0.4124, p 0.000138, and survdiff
// chisq 16.79 with expected events 10.75 (placebo) and 19.25 (6-MP).
func freireich() (groups, durations []float64, events []bool) {
	treated := []float64{6, 6, 6, 6, 7, 9, 10, 10, 11, 13, 16, 17, 19, 20, 22, 23, 25, 32, 32, 34, 35}
	treatedEvent := []bool{
		true, true, true, false, true, false, true, false, false, true, true,
		false, false, false, true, true, false, false, false, false, false,
	}
	placebo := []float64{1, 1, 2, 2, 3, 4, 4, 5, 5, 8, 8, 8, 8, 11, 11, 12, 12, 15, 17, 22, 23}

	for i, d := range treated {
		groups = append(groups, 0)
		durations = append(durations, d)
		events = append(events, treatedEvent[i])
	}
	for _, d := range placebo {
		groups = append(groups, 1)
		durations = append(durations, d)
		events = append(events, true)
	}
	return
}

// randomCohort draws two groups with exponential survival, group 1 at a
// higher hazard, random censoring and durations rounded to create ties.
func randomCohort(rng *rand.Rand, n int, hazardRatio float64) (groups, durations []float64, events []bool) {
	for i := 0; i < n; i++ {
		g := float64(i % 2)
		rate := 1.0
		if g == 1 {
			rate = hazardRatio
		}
		t := rng.ExpFloat64() / rate
		c := rng.ExpFloat64() / 0.5
		groups = append(groups, g)
		durations = append(durations, math.Round(math.Min(t, c)*20)/20)
		events = append(events, t <= c)
	}
	return
}

func models() []ports.SurvivalModel {
	return []ports.SurvivalModel{NewCoxModel(), NewLogRankModel()}
}

func TestModels_DetectStrongEffect(t *testing.T) {
	groups, durations, events := strongEffect()

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			fit, err := m.Fit(context.Background(), groups, durations, events)
			require.NoError(t, err)
			assert.Less(t, fit.PValue, 0.05)
			assert.Greater(t, fit.HazardRatio, 1.0)
			assert.False(t, math.IsNaN(fit.PValue))
		})
	}
}

func TestCoxModel_MatchesReferenceFit(t *testing.T) {
	groups, durations, events := freireich()

	fit, err := NewCoxModel().Fit(context.Background(), groups, durations, events)
	require.NoError(t, err)
	assert.InDelta(t, 1.5721, math.Log(fit.HazardRatio), 1e-4)
	assert.InDelta(t, 4.8169, fit.HazardRatio, 1e-3)
	assert.InDelta(t, 1.3775e-4, fit.PValue, 1e-7)
}

func TestLogRankModel_MatchesReferenceTest(t *testing.T) {
	groups, durations, events := freireich()

	fit, err := NewLogRankModel().Fit(context.Background(), groups, durations, events)
	require.NoError(t, err)
	// chisq 16.793 on 1 df
	assert.InDelta(t, 4.1688e-5, fit.PValue, 1e-8)
	// (21/10.7495) / (9/19.2505)
	assert.InDelta(t, 4.1786, fit.HazardRatio, 1e-3)
}

func TestCoxModel_ConvergesOnRandomCohorts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := NewCoxModel()

	for i := 0; i < 200; i++ {
		groups, durations, events := randomCohort(rng, 80, 1.5)
		fit, err := m.Fit(context.Background(), groups, durations, events)
		require.NoError(t, err, "cohort %d", i)
		assert.False(t, math.IsNaN(fit.PValue), "cohort %d", i)
		assert.Greater(t, fit.HazardRatio, 0.0, "cohort %d", i)
		assert.GreaterOrEqual(t, fit.PValue, 0.0, "cohort %d", i)
		assert.LessOrEqual(t, fit.PValue, 1.0, "cohort %d", i)
	}
}

func TestCoxModel_SeparationDetectedBeforeOptimizing(t *testing.T) {
	// Group 0 never has an event while group 1 is at risk
	groups := []float64{1, 0, 1, 0, 1}
	durations := []float64{1, 2, 3, 4, 5}
	events := []bool{true, false, true, false, true}

	rt, err := buildRiskTable(groups, durations, events)
	require.NoError(t, err)
	assert.True(t, rt.separated())

	groups, durations, events = freireich()
	rt, err = buildRiskTable(groups, durations, events)
	require.NoError(t, err)
	assert.False(t, rt.separated())
}

func TestModels_SwappedGroupsInvertHazard(t *testing.T) {
	groups, durations, events := strongEffect()
	swapped := make([]float64, len(groups))
	for i, g := range groups {
		swapped[i] = 1 - g
	}

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			a, err := m.Fit(context.Background(), groups, durations, events)
			require.NoError(t, err)
			b, err := m.Fit(context.Background(), swapped, durations, events)
			require.NoError(t, err)

			assert.InDelta(t, a.PValue, b.PValue, 1e-6)
			assert.Less(t, b.HazardRatio, 1.0)
			if m.Name() == ModelCox {
				assert.InDelta(t, 1/a.HazardRatio, b.HazardRatio, 1e-6)
			}
		})
	}
}

func TestModels_NoEffect(t *testing.T) {
	// Identical survival in both groups
	groups := []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	durations := []float64{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}
	events := []bool{true, true, true, true, false, false, true, true, true, true}

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			fit, err := m.Fit(context.Background(), groups, durations, events)
			require.NoError(t, err)
			assert.Greater(t, fit.PValue, 0.9)
			assert.InDelta(t, 1.0, fit.HazardRatio, 1e-6)
		})
	}
}

func TestModels_EmptyGroupIsModelFitError(t *testing.T) {
	groups := []float64{0, 0, 0, 0}
	durations := []float64{1, 2, 3, 4}
	events := []bool{true, true, false, true}

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			_, err := m.Fit(context.Background(), groups, durations, events)
			require.Error(t, err)
			assert.True(t, errors.IsModelFitError(err))
		})
	}
}

func TestModels_NoEventsIsModelFitError(t *testing.T) {
	groups := []float64{0, 1, 0, 1}
	durations := []float64{1, 2, 3, 4}
	events := []bool{false, false, false, false}

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			_, err := m.Fit(context.Background(), groups, durations, events)
			require.Error(t, err)
			assert.True(t, errors.IsModelFitError(err))
		})
	}
}

func TestModels_SeparationIsModelFitError(t *testing.T) {
	// Only group 1 ever has events
	groups := []float64{1, 1, 1, 1, 0, 0, 0, 0}
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	events := []bool{true, true, true, true, false, false, false, false}

	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			_, err := m.Fit(context.Background(), groups, durations, events)
			require.Error(t, err)
			assert.True(t, errors.IsModelFitError(err))
		})
	}
}

func TestModels_InvalidInput(t *testing.T) {
	m := NewLogRankModel()

	_, err := m.Fit(context.Background(), []float64{0, 1}, []float64{1}, []bool{true, true})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = m.Fit(context.Background(), []float64{0, 2}, []float64{1, 2}, []bool{true, true})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestModels_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	groups, durations, events := strongEffect()

	for _, m := range models() {
		_, err := m.Fit(ctx, groups, durations, events)
		require.Error(t, err)
		assert.True(t, errors.IsModelFitError(err))
	}
}

func TestBuildRiskTable_CountsAtRisk(t *testing.T) {
	groups := []float64{0, 1, 0, 1}
	durations := []float64{2, 2, 5, 7}
	events := []bool{true, false, true, true}

	rt, err := buildRiskTable(groups, durations, events)
	require.NoError(t, err)
	require.Len(t, rt.steps, 3)

	assert.Equal(t, riskStep{n0: 2, n1: 2, d0: 1, d1: 0}, rt.steps[0])
	assert.Equal(t, riskStep{n0: 1, n1: 1, d0: 1, d1: 0}, rt.steps[1])
	assert.Equal(t, riskStep{n0: 0, n1: 1, d0: 0, d1: 1}, rt.steps[2])
	assert.Equal(t, 2.0, rt.events0)
	assert.Equal(t, 1.0, rt.events1)
}

func TestNew(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	assert.Equal(t, ModelCox, m.Name())

	m, err = New("Log-Rank")
	require.NoError(t, err)
	assert.Equal(t, ModelLogRank, m.Name())

	_, err = New("weibull")
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}
