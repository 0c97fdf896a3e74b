package dist

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/rng"
)

func init() {
	Register(ModelNormal, func() Model { return &Normal{} })
}

// Normal is the Gaussian return model. Its implied excess kurtosis is zero;
// the tail gate reads the sample kurtosis of the fit window, so a Normal fit
// passes on heavy-tailed data and fails on thin-tailed data, like every other
// model. It exists as a thin-tailed baseline for comparison runs.
type Normal struct {
	Mean float64
	Std  float64
	fit  bool
}

func (n *Normal) Name() string { return ModelNormal }

func (n *Normal) Params() map[string]float64 {
	return map[string]float64{"mean": n.Mean, "std": n.Std}
}

func (n *Normal) Fit(returns []float64, seed uint64, opts FitOptions) (*FitRecord, error) {
	prepared, st, differenced, err := prepareReturns(returns, opts)
	if err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(prepared, nil)
	if std <= 1e-9 || std > 10 {
		return nil, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"std", std, "std must be in (1e-9, 10]",
			"check the return series for degenerate values")
	}

	nn := float64(len(prepared))
	var ll float64
	d := distuv.Normal{Mu: mean, Sigma: std}
	for _, x := range prepared {
		ll += d.LogProb(x)
	}
	const k = 2
	kurt := sampleKurtosis(prepared)
	modelKurt := 0.0

	rec := &FitRecord{
		Model:          ModelNormal,
		Params:         map[string]float64{"mean": mean, "std": std},
		FitWindow:      len(prepared),
		Seed:           seed,
		LogLikelihood:  ll,
		AIC:            2*k - 2*ll,
		BIC:            k*math.Log(nn) - 2*ll,
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

	n.Mean, n.Std, n.fit = mean, std, true

	if rec.Status == StatusFail {
		return rec, errs.Fit(errs.TagImplausibleParam).WithDetail(
			"excess_kurtosis", kurt,
			"fitted distribution must show excess kurtosis >= kurtosis_warn",
			"use a heavier-tailed model for this series")
	}
	return rec, nil
}

func (n *Normal) SamplePath(seed uint64, pathIndex int, out []float64) {
	d := distuv.Normal{
		Mu:    n.Mean,
		Sigma: n.Std,
		Src:   rng.NewSource(rng.DeriveIndexed(seed, "path", pathIndex)),
	}
	for i := range out {
		out[i] = d.Rand()
	}
}
