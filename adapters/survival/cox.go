package survival

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"gocutoff/internal/errors"
	"gocutoff/ports"
)

const (
	// maxAbsCoefficient guards against perfect separation, where the
	// partial likelihood has no finite maximum (HR beyond ~3e6).
	maxAbsCoefficient = 15.0
	gradientTolerance = 1e-6
)

// CoxModel fits a single binary-covariate Cox proportional-hazards model
// with Efron's tie handling and reports the Wald test of the coefficient.
type CoxModel struct {
	maxIterations int
}

// NewCoxModel creates a Cox model
func NewCoxModel() *CoxModel {
	return &CoxModel{maxIterations: 100}
}

// Name returns the model name
func (m *CoxModel) Name() string {
	return "cox"
}

// Fit maximizes the partial likelihood of the group indicator
func (m *CoxModel) Fit(ctx context.Context, groups, durations []float64, events []bool) (ports.SurvivalFit, error) {
	if err := ctx.Err(); err != nil {
		return ports.SurvivalFit{}, errors.ModelFitError("cox fit cancelled", err)
	}

	rt, err := buildRiskTable(groups, durations, events)
	if err != nil {
		return ports.SurvivalFit{}, err
	}

	if rt.separated() {
		return ports.SurvivalFit{}, errors.ModelFitError("groups are perfectly separated, coefficient is unbounded", nil)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			ll, _, _ := rt.efron(x[0])
			return -ll
		},
		Grad: func(grad, x []float64) {
			_, g, _ := rt.efron(x[0])
			grad[0] = -g
		},
		Hess: func(hess *mat.SymDense, x []float64) {
			_, _, info := rt.efron(x[0])
			hess.SetSym(0, 0, info)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-8,
		MajorIterations:   m.maxIterations,
	}

	// Near the optimum the line search can stall on rounding and report
	// failure; the location is still usable, so the checks below decide.
	result, minErr := optimize.Minimize(problem, []float64{0}, settings, &optimize.Newton{})
	if result == nil || len(result.X) == 0 {
		return ports.SurvivalFit{}, errors.ModelFitError("cox partial likelihood did not converge", minErr)
	}

	beta := rt.polish(result.X[0])
	_, grad, info := rt.efron(beta)
	if math.IsNaN(beta) || math.Abs(beta) > maxAbsCoefficient {
		return ports.SurvivalFit{}, errors.ModelFitError(
			fmt.Sprintf("coefficient diverged (beta=%.3g), groups are perfectly separated", beta), minErr)
	}
	if math.Abs(grad) > gradientTolerance*math.Max(1, rt.events0+rt.events1) {
		return ports.SurvivalFit{}, errors.ModelFitError(
			fmt.Sprintf("cox fit stopped with gradient %.3g (status %v)", grad, result.Status), minErr)
	}
	if info <= 0 || math.IsNaN(info) {
		return ports.SurvivalFit{}, errors.ModelFitError("observed information is not positive", minErr)
	}

	se := 1 / math.Sqrt(info)
	z := beta / se
	p := 2 * distuv.UnitNormal.Survival(math.Abs(z))

	return ports.SurvivalFit{
		PValue:      math.Min(1, p),
		HazardRatio: math.Exp(beta),
	}, nil
}

// polish takes plain Newton steps from beta while they raise the
// likelihood. The log partial likelihood is concave in beta.
func (rt *riskTable) polish(beta float64) float64 {
	ll, grad, info := rt.efron(beta)
	for i := 0; i < 20 && info > 0 && math.Abs(grad) > 1e-12; i++ {
		next := beta + grad/info
		nll, ngrad, ninfo := rt.efron(next)
		if math.IsNaN(nll) || nll < ll {
			break
		}
		beta, ll, grad, info = next, nll, ngrad, ninfo
	}
	return beta
}

// separated reports whether the likelihood keeps rising as beta goes to
// either infinity, which happens when the gradient never changes sign.
func (rt *riskTable) separated() bool {
	var up, down float64
	for _, s := range rt.steps {
		d := s.d()
		up += s.d1
		down += s.d1
		for l := 0.0; l < d; l++ {
			frac := l / d
			if s.n1-frac*s.d1 > 0 {
				up--
			}
			if s.n0-frac*s.d0 <= 0 {
				down--
			}
		}
	}
	return up >= 0 || down <= 0
}

// efron returns the log partial likelihood, its derivative and the
// observed information at beta. With a 0/1 covariate every risk-set sum
// is a0 + a1*exp(beta), evaluated in log space so no beta overflows.
func (rt *riskTable) efron(beta float64) (ll, grad, info float64) {
	for _, s := range rt.steps {
		d := s.d()
		ll += s.d1 * beta
		grad += s.d1
		for l := 0.0; l < d; l++ {
			frac := l / d
			a0 := s.n0 - frac*s.d0
			a1 := s.n1 - frac*s.d1
			ll -= logLinearExp(a0, a1, beta)
			q := shareOfGroup1(a0, a1, beta)
			grad -= q
			info += q * (1 - q)
		}
	}
	return ll, grad, info
}

// logLinearExp computes log(a0 + a1*exp(beta)) for a0, a1 >= 0
func logLinearExp(a0, a1, beta float64) float64 {
	switch {
	case a1 <= 0:
		return math.Log(a0)
	case a0 <= 0:
		return math.Log(a1) + beta
	}
	x, y := math.Log(a0), math.Log(a1)+beta
	if x > y {
		x, y = y, x
	}
	return y + math.Log1p(math.Exp(x-y))
}

// shareOfGroup1 computes a1*exp(beta) / (a0 + a1*exp(beta))
func shareOfGroup1(a0, a1, beta float64) float64 {
	switch {
	case a1 <= 0:
		return 0
	case a0 <= 0:
		return 1
	}
	return 1 / (1 + math.Exp(math.Log(a0)-math.Log(a1)-beta))
}
