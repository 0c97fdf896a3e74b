package dist

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/rng"
)

func init() {
	Register(ModelLaplace, func() Model { return &Laplace{} })
}

// Laplace is the double-exponential return model. It is also the engine's
// fallback model: the method-of-moments variant never rejects on tail shape.
type Laplace struct {
	Loc   float64
	Scale float64
	fit   bool
}

func (l *Laplace) Name() string { return ModelLaplace }

func (l *Laplace) Params() map[string]float64 {
	return map[string]float64{"loc": l.Loc, "scale": l.Scale}
}

// Fit estimates (loc, scale) by maximum likelihood: loc is the sample median,
// scale the mean absolute deviation around it. Both are closed form, so the
// iteration counter stays at zero.
func (l *Laplace) Fit(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error) {
	prepared, st, differenced, err := prepareReturns(returns, opts)
	if err != nil {
		return nil, err
	}

	sorted := append([]float64(nil), prepared...)
	sort.Float64s(sorted)
	loc := median(sorted)

	var mad float64
	for _, x := range prepared {
		mad += math.Abs(x - loc)
	}
	scale := mad / float64(len(prepared))

	return l.finishFit(prepared, loc, scale, seed, opts, st, differenced, true)
}

// fitMethodOfMoments is the fallback estimator: loc from the mean, scale from
// the standard deviation (Var = 2 scale^2). It records the tail status but
// never fails on it.
func (l *Laplace) fitMethodOfMoments(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error) {
	prepared, st, differenced, err := prepareReturns(returns, opts)
	if err != nil {
		return nil, err
	}
	mean, std := stat.MeanStdDev(prepared, nil)
	scale := std / math.Sqrt2
	return l.finishFit(prepared, mean, scale, seed, opts, st, differenced, false)
}

func (l *Laplace) finishFit(prepared []float64, loc, scale float64, seed uint64, opts FitOptions, st *StationarityResult, differenced, enforceTails bool) (*FitRecord, error) {
	if scale <= 1e-9 || scale > 10 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"scale", scale, "scale must be in (1e-9, 10]",
			"check the return series for degenerate values")
	}

	n := float64(len(prepared))
	ll := -n*math.Log(2*scale) - sumAbsDev(prepared, loc)/scale
	const k = 2
	kurt := sampleKurtosis(prepared)
	modelKurt := 3.0

	rec := &FitRecord{
		Model:          ModelLaplace,
		Params:         map[string]float64{"loc": loc, "scale": scale},
		FitWindow:      len(prepared),
		Seed:           seed,
		LogLikelihood:  ll,
		AIC:            2*k - 2*ll,
		BIC:            k*math.Log(n) - 2*ll,
		Status:         heavyTailStatus(kurt, opts.Thresholds),
		ExcessKurtosis: kurt,
		ModelKurtosis:  &modelKurt,
		MaxIterations:  opts.Thresholds.MaxIterations,
		Tolerance:      opts.Thresholds.FitTolerance,
		Converged:      true,
		Differenced:    differenced,
		ADFStatistic:   st.Statistic,
		ADFPValue:      st.PValue,
	}

	if enforceTails && rec.Status == StatusFail {
		l.Loc, l.Scale, l.fit = loc, scale, true
		return rec, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"excess_kurtosis", kurt,
			"fitted distribution must show excess kurtosis >= kurtosis_warn",
			"use fallback_to_default or a heavier-tailed model")
	}

	l.Loc, l.Scale, l.fit = loc, scale, true
	return rec, nil
}

// SamplePath draws nSteps Laplace log-returns for the given global path
// index. The per-path stream is derived from (seed, index), which makes the
// draw invariant to chunk boundaries.
func (l *Laplace) SamplePath(seed uint64, pathIndex int, out []float64) {
	d := distuv.Laplace{
		Mu:    l.Loc,
		Scale: l.Scale,
		Src:   rng.NewSource(rng.DeriveIndexed(seed, "path", pathIndex)),
	}
	for i := range out {
		out[i] = d.Rand()
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

func sumAbsDev(xs []float64, center float64) float64 {
	var s float64
	for _, x := range xs {
		s += math.Abs(x - center)
	}
	return s
}
