package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/scenario/internal/config"
)

// ObjectiveScores forms the composite ranking score for each completed
// config:
//
//	w_pnl*z(pnl) + w_sharpe*z(sharpe) - w_dd*z(drawdown) - w_cvar*z(cvar)
//
// Drawdown and CVaR enter as loss magnitudes so a larger value always ranks
// worse. Z-scores are taken across the completed set with an epsilon guard;
// a single config degenerates to zero normalization and a zero score.
func ObjectiveScores(reports []*Report, w config.ObjectiveWeights, eps float64) []float64 {
	n := len(reports)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}
	if eps <= 0 {
		eps = 1e-8
	}

	pnl := make([]float64, n)
	sharpeVals := make([]float64, n)
	dd := make([]float64, n)
	cvar := make([]float64, n)
	for i, r := range reports {
		pnl[i] = r.MeanPnL
		sharpeVals[i] = r.Sharpe
		dd[i] = math.Abs(r.MaxDrawdown)
		cvar[i] = math.Abs(math.Min(r.CVaR, 0))
	}

	zPnl := zScores(pnl, eps)
	zSharpe := zScores(sharpeVals, eps)
	zDD := zScores(dd, eps)
	zCVaR := zScores(cvar, eps)

	for i := range scores {
		scores[i] = w.PnL*zPnl[i] + w.Sharpe*zSharpe[i] - w.Drawdown*zDD[i] - w.CVaR*zCVaR[i]
	}
	return scores
}

func zScores(xs []float64, eps float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) < 2 {
		return out // zero normalization for a single entry
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if std < eps {
		std = eps
	}
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}
