package survival

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// LogRankModel compares the two groups with the Mantel log-rank test.
// The hazard ratio is the observed/expected ratio of group 1 over group 0.
type LogRankModel struct{}

// NewLogRankModel creates a log-rank model
func NewLogRankModel() *LogRankModel {
	return &LogRankModel{}
}

// Name returns the model name
func (m *LogRankModel) Name() string {
	return "logrank"
}

// Fit computes the 1-df chi-square log-rank statistic
func (m *LogRankModel) Fit(ctx context.Context, groups, durations []float64, events []bool) (ports.SurvivalFit, error) {
	if err := ctx.Err(); err != nil {
		return ports.SurvivalFit{}, errors.ModelFitError("log-rank fit cancelled", err)
	}

	rt, err := buildRiskTable(groups, durations, events)
	if err != nil {
		return ports.SurvivalFit{}, err
	}

	var expected1, variance float64
	for _, s := range rt.steps {
		n, d := s.n(), s.d()
		expected1 += d * s.n1 / n
		if n > 1 {
			variance += d * (s.n1 / n) * (s.n0 / n) * (n - d) / (n - 1)
		}
	}
	observed1, observed0 := rt.events1, rt.events0
	expected0 := observed0 + observed1 - expected1

	if variance <= 0 {
		return ports.SurvivalFit{}, errors.ModelFitError("log-rank variance is zero", nil)
	}
	if observed0 == 0 || observed1 == 0 || expected0 <= 0 || expected1 <= 0 {
		return ports.SurvivalFit{}, errors.ModelFitError(
			fmt.Sprintf("a group has no events (observed0=%v, observed1=%v)", observed0, observed1), nil)
	}

	chi := (observed1 - expected1) * (observed1 - expected1) / variance
	p := distuv.ChiSquared{K: 1}.Survival(chi)
	hr := (observed1 / expected1) / (observed0 / expected0)

	return ports.SurvivalFit{
		PValue:      math.Min(1, math.Max(0, p)),
		HazardRatio: hr,
	}, nil
}
