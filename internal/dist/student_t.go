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
	Register(ModelStudentT, func() Model { return &StudentT{} })
}

// StudentT fits location-scale Student-t returns by bounded maximum
// likelihood. The optimizer works in an unconstrained parametrization
// (loc, log scale, log(df-2)) so df > 2 holds by construction; plausibility
// bounds are enforced after convergence.
type StudentT struct {
	Loc   float64
	Scale float64
	Df    float64
	fit   bool
}

func (t *StudentT) Name() string { return ModelStudentT }

func (t *StudentT) Params() map[string]float64 {
	return map[string]float64{"loc": t.Loc, "scale": t.Scale, "df": t.Df}
}

func (t *StudentT) Fit(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error) {
	prepared, st, differenced, err := prepareReturns(returns, opts)
	if err != nil {
		return nil, err
	}
	th := opts.Thresholds

	mean, std := stat.MeanStdDev(prepared, nil)
	if std <= 0 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"std", std, "series must have positive variance",
			"check the return series for constant values")
	}

	// theta = (loc, log scale, log(df-2))
	nll := func(theta []float64) float64 {
		loc := theta[0]
		scale := math.Exp(theta[1])
		df := 2 + math.Exp(theta[2])
		if !finite(scale) || !finite(df) || scale <= 0 {
			return math.Inf(1)
		}
		d := distuv.StudentsT{Mu: loc, Sigma: scale, Nu: df}
		var sum float64
		for _, x := range prepared {
			lp := d.LogProb(x)
			if !finite(lp) {
				return math.Inf(1)
			}
			sum -= lp
		}
		return sum
	}

	const df0 = 6.0
	x0 := []float64{mean, math.Log(std * math.Sqrt((df0-2)/df0)), math.Log(df0 - 2)}

	settings := &optimize.Settings{
		MajorIterations: th.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   th.FitTolerance,
			Iterations: 50,
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

	loc := res.X[0]
	scale := math.Exp(res.X[1])
	df := 2 + math.Exp(res.X[2])

	if df < th.StudentTDfMin || df > th.DfUpper {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"df", df,
			"df must lie within [student_t_df_min, df_upper]",
			"use laplace or normal for this series")
	}
	if scale <= 1e-9 || scale > 10 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"scale", scale, "scale must be in (1e-9, 10]",
			"check the return series for degenerate values")
	}

	ll := -res.F
	const k = 3
	n := float64(len(prepared))
	kurt := sampleKurtosis(prepared)

	rec := &FitRecord{
		Model:          ModelStudentT,
		Params:         map[string]float64{"loc": loc, "scale": scale, "df": df},
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
	if df > 4 {
		mk := 6 / (df - 4)
		rec.ModelKurtosis = &mk
	}

	t.Loc, t.Scale, t.Df, t.fit = loc, scale, df, true

	if rec.Status == StatusFail {
		return rec, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"excess_kurtosis", kurt,
			"fitted distribution must show excess kurtosis >= kurtosis_warn",
			"enable fallback_to_default or widen the fit window")
	}
	return rec, nil
}

func (t *StudentT) SamplePath(seed uint64, pathIndex int, out []float64) {
	d := distuv.StudentsT{
		Mu:    t.Loc,
		Sigma: t.Scale,
		Nu:    t.Df,
		Src:   rng.NewSource(rng.DeriveIndexed(seed, "path", pathIndex)),
	}
	for i := range out {
		out[i] = d.Rand()
	}
}
