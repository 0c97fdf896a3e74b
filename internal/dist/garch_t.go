package dist

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/rng"
)

func init() {
	Register(ModelGarchT, func() Model { return &GarchT{} })
}

// GarchT is a GARCH(1,1) volatility process with standardized Student-t
// innovations. The optimizer works in an unconstrained parametrization that
// keeps omega positive and alpha+beta < 1 by construction:
//
//	persistence = sigmoid(theta1), split = sigmoid(theta2)
//	alpha = persistence * split, beta = persistence * (1 - split)
//	omega = exp(theta0), df = 2 + exp(theta3)
type GarchT struct {
	Mu    float64
	Omega float64
	Alpha float64
	Beta  float64
	Df    float64
	h0    float64 // unconditional variance, recursion start
	fit   bool
}

func (g *GarchT) Name() string { return ModelGarchT }

func (g *GarchT) Params() map[string]float64 {
	return map[string]float64{
		"mu": g.Mu, "omega": g.Omega, "alpha": g.Alpha, "beta": g.Beta, "df": g.Df,
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// garchNLL computes the negative log-likelihood of demeaned returns under the
// recursion h_t = omega + alpha*r^2_{t-1} + beta*h_{t-1}.
func garchNLL(demeaned []float64, omega, alpha, beta, df, h0 float64) float64 {
	c := math.Sqrt((df - 2) / df) // standardizes the t innovation to unit variance
	d := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	h := h0
	var nll float64
	for i, r := range demeaned {
		if i > 0 {
			h = omega + alpha*demeaned[i-1]*demeaned[i-1] + beta*h
		}
		if h <= 0 || !finite(h) {
			return math.Inf(1)
		}
		s := math.Sqrt(h) * c
		lp := d.LogProb(r/s) - math.Log(s)
		if !finite(lp) {
			return math.Inf(1)
		}
		nll -= lp
	}
	return nll
}

func (g *GarchT) Fit(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error) {
	th := opts.Thresholds
	if opts.MinSamples <= 0 {
		opts.MinSamples = th.MinSamplesGarch
		if opts.MinSamples <= 0 {
			opts.MinSamples = 252
		}
	}
	prepared, st, differenced, err := prepareReturns(returns, opts)
	if err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(prepared, nil)
	variance := std * std
	if variance <= 0 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"variance", variance, "series must have positive variance",
			"check the return series for constant values")
	}
	demeaned := make([]float64, len(prepared))
	for i, r := range prepared {
		demeaned[i] = r - mean
	}

	unpack := func(theta []float64) (omega, alpha, beta, df float64) {
		persistence := sigmoid(theta[1])
		split := sigmoid(theta[2])
		return math.Exp(theta[0]), persistence * split, persistence * (1 - split), 2 + math.Exp(theta[3])
	}

	nll := func(theta []float64) float64 {
		omega, alpha, beta, df := unpack(theta)
		if !finite(omega) || !finite(df) {
			return math.Inf(1)
		}
		return garchNLL(demeaned, omega, alpha, beta, df, variance)
	}

	// Start at persistence 0.9 split 10/90 between alpha and beta, df 8.
	x0 := []float64{
		math.Log(variance * 0.1),
		math.Log(0.9 / 0.1),
		math.Log(0.1 / 0.9),
		math.Log(8.0 - 2),
	}

	settings := &optimize.Settings{
		MajorIterations: th.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   th.FitTolerance,
			Iterations: 100,
		},
	}
	res, oerr := optimize.Minimize(optimize.Problem{Func: nll}, x0, settings, &optimize.NelderMead{})

	iters := 0
	if res != nil {
		iters = res.Stats.MajorIterations
	}
	converged := oerr == nil && res != nil &&
		(res.Status == optimize.FunctionConvergence || res.Status == optimize.StepConvergence)
	if !converged {
		return nil, errs.Fit(errs.TagNonConvergence).WithDetail(
			"iterations", iters,
			"optimizer must converge within max_iterations",
			"raise max_iterations or enable fallback_to_default")
	}

	omega, alpha, beta, df := unpack(res.X)
	persistence := alpha + beta

	if persistence >= th.GarchPersistMax {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"alpha+beta", persistence,
			"GARCH persistence must stay below garch_persist_max",
			"the variance process is near-explosive; use student_t instead")
	}
	if df < th.StudentTDfMin || df > th.DfUpper {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"df", df,
			"df must lie within [student_t_df_min, df_upper]",
			"use laplace or normal for this series")
	}
	if omega <= 0 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"omega", omega, "omega must be positive",
			"check the return series scaling")
	}

	ll := -res.F
	const k = 5 // mu, omega, alpha, beta, df
	n := float64(len(prepared))
	kurt := sampleKurtosis(prepared)

	rec := &FitRecord{
		Model: ModelGarchT,
		Params: map[string]float64{
			"mu": mean, "omega": omega, "alpha": alpha, "beta": beta, "df": df,
		},
		FitWindow:      len(prepared),
		Seed:           seed,
		LogLikelihood:  ll,
		AIC:            2*k - 2*ll,
		BIC:            k*math.Log(n) - 2*ll,
		Status:         heavyTailStatus(kurt, th),
		ExcessKurtosis: kurt,
		Iterations:     iters,
		MaxIterations:  th.MaxIterations,
		Tolerance:      th.FitTolerance,
		Converged:      true,
		Differenced:    differenced,
		ADFStatistic:   st.Statistic,
		ADFPValue:      st.PValue,
	}

	g.Mu, g.Omega, g.Alpha, g.Beta, g.Df = mean, omega, alpha, beta, df
	g.h0 = omega / (1 - persistence)
	g.fit = true

	if rec.Status == StatusFail {
		return rec, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"excess_kurtosis", kurt,
			"fitted distribution must show excess kurtosis >= kurtosis_warn",
			"enable fallback_to_default or widen the fit window")
	}
	return rec, nil
}

// SamplePath runs the variance recursion forward from the unconditional
// variance. The recursion stream is derived deterministically from the caller
// seed and the global path index.
func (g *GarchT) SamplePath(seed uint64, pathIndex int, out []float64) {
	d := distuv.StudentsT{
		Mu: 0, Sigma: 1, Nu: g.Df,
		Src: rng.NewSource(rng.DeriveIndexed(seed, "path", pathIndex)),
	}
	c := math.Sqrt((g.Df - 2) / g.Df)
	h := g.h0
	for i := range out {
		z := d.Rand() * c
		r := math.Sqrt(h) * z
		out[i] = g.Mu + r
		h = g.Omega + g.Alpha*r*r + g.Beta*h
	}
}
