// Package metrics computes per-path P&L with trading costs, the summary risk
// measures, and the composite objective used for grid ranking.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/mc"
	"github.com/aristath/scenario/internal/pricing"
	"github.com/aristath/scenario/internal/strategy"
)

// Report is the summary metrics block for one strategy run. Metrics over
// bankrupt paths are reported twice: the top-level block covers all paths,
// ExclBankrupt excludes the bankrupt ones.
type Report struct {
	MeanPnL             float64 `json:"mean_pnl"`
	MedianPnL           float64 `json:"median_pnl"`
	Sharpe              float64 `json:"sharpe"`
	Sortino             float64 `json:"sortino"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	VaR                 float64 `json:"var"`
	CVaR                float64 `json:"cvar"`
	VarMethod           string  `json:"var_method"`
	BankruptcyRate      float64 `json:"bankruptcy_rate"`
	EarlyExerciseEvents int     `json:"early_exercise_events"`

	ExclBankrupt *Report `json:"excl_bankrupt,omitempty"`
}

// Engine evaluates signals against paths. It owns the cost model constants
// resolved from thresholds.
type Engine struct {
	th     config.Thresholds
	pricer *pricing.BlackScholes
}

// NewEngine builds a metrics engine with the given thresholds.
func NewEngine(th config.Thresholds) *Engine {
	return &Engine{th: th, pricer: &pricing.BlackScholes{}}
}

// Evaluate computes the report for one (paths, signals) pair. Metrics are
// always computed against the realized position trajectory: costs and early
// exercise modify the trajectory, not the ideal signal.
func (e *Engine) Evaluate(paths *mc.PricePaths, sig *strategy.Signals, strat strategy.Strategy, varMethod string) (*Report, error) {
	kind := domain.KindStock
	if sig.OptionSpec != nil {
		kind = domain.KindOption
	}
	if err := sig.Validate(paths.NPaths, paths.NSteps, kind); err != nil {
		return nil, err
	}

	bankrupt := make(map[int]bool, len(paths.Bankruptcies))
	for _, b := range paths.Bankruptcies {
		bankrupt[b.Path] = true
	}

	exerciser, _ := strat.(strategy.EarlyExerciser)

	totals := make([]float64, paths.NPaths)
	stepPnL := make([]float64, paths.NSteps) // aggregate across paths
	exerciseEvents := 0

	premiums := make([]float64, paths.NSteps+1)
	err := paths.ForEachRow(func(i int, row []float64) error {
		var pathPnL float64

		// Stock leg.
		if rows := sig.Stock; rows[i] != nil {
			pathPnL += e.legPnL(row, rows[i], e.th.FeePerShare, stepPnL)
		}

		// Option leg, via per-step repricing.
		if sig.OptionSpec != nil && sig.Option[i] != nil {
			if err := e.pricer.PriceAlongPath(row, sig.OptionSpec, premiums); err != nil {
				return err
			}
			pnl, events, err := e.optionLegPnL(row, premiums, sig.Option[i], sig.OptionSpec, exerciser, i, stepPnL)
			if err != nil {
				return err
			}
			pathPnL += pnl
			exerciseEvents += events
		}

		totals[i] = pathPnL
		return nil
	})
	if err != nil {
		return nil, err
	}

	report, err := e.summarize(totals, stepPnL, paths, varMethod, nil)
	if err != nil {
		return nil, err
	}
	report.EarlyExerciseEvents = exerciseEvents

	if len(bankrupt) > 0 {
		cond, err := e.summarize(totals, stepPnL, paths, varMethod, bankrupt)
		if err != nil {
			return nil, err
		}
		report.ExclBankrupt = cond
	}
	return report, nil
}

// legPnL accumulates position[t] * (price[t+1] - price[t]) with slippage and
// per-share fees at every position change.
func (e *Engine) legPnL(prices []float64, positions []int8, feePerUnit float64, stepAgg []float64) float64 {
	var total float64
	prev := int8(0)
	for t := 0; t < len(positions); t++ {
		pos := positions[t]
		pnl := float64(pos) * (prices[t+1] - prices[t])
		if pos != prev {
			traded := math.Abs(float64(pos - prev))
			notional := traded * prices[t]
			pnl -= notional*e.th.SlippageBps/10000 + traded*feePerUnit
		}
		total += pnl
		stepAgg[t] += pnl
		prev = pos
	}
	return total
}

// optionLegPnL walks the repriced premium curve. Early exercise realizes
// intrinsic value at the asserted step and flattens the position.
func (e *Engine) optionLegPnL(prices, premiums []float64, positions []int8, spec *domain.OptionSpec, exerciser strategy.EarlyExerciser, path int, stepAgg []float64) (float64, int, error) {
	strike := spec.ResolveStrike(prices[0])
	contracts := float64(spec.Contracts)
	if contracts == 0 {
		contracts = 1
	}
	var total float64
	events := 0
	prev := int8(0)
	exercised := false

	for t := 0; t < len(positions); t++ {
		pos := positions[t]
		if exercised {
			pos = 0
		}

		var pnl float64
		exercisedNow := false
		if pos != 0 && exerciser != nil {
			// Premiums along the path already carry the contract multiplier;
			// scale intrinsic the same way before comparing.
			intrinsic := pricing.Intrinsic(prices[t], strike, spec.Type) * contracts
			if exerciser.CheckEarlyExercise(strategy.PositionState{
				Path: path, Step: t, Spot: prices[t], Strike: strike,
				Intrinsic: intrinsic, Premium: premiums[t],
			}) {
				// Realize intrinsic against the live premium and flatten.
				pnl = float64(pos) * (intrinsic - premiums[t])
				events++
				exercised = true
				exercisedNow = true
				pos = 0
			}
		}
		if !exercisedNow && pos != 0 {
			pnl = float64(pos) * (premiums[t+1] - premiums[t])
		}
		if pos != prev {
			traded := math.Abs(float64(pos - prev))
			pnl -= premiums[t]*traded*e.th.SlippageBps/10000 + traded*e.th.FeePerContract
		}
		total += pnl
		stepAgg[t] += pnl
		prev = pos
	}
	return total, events, nil
}

// summarize folds per-path totals and the aggregate step P&L into the report.
// exclude, when non-nil, drops those path indices (the bankrupt-excluded
// variant).
func (e *Engine) summarize(totals, stepPnL []float64, paths *mc.PricePaths, varMethod string, exclude map[int]bool) (*Report, error) {
	selected := totals
	if exclude != nil {
		selected = make([]float64, 0, len(totals))
		for i, v := range totals {
			if !exclude[i] {
				selected = append(selected, v)
			}
		}
	}
	if len(selected) == 0 {
		return nil, errs.Numeric(errs.TagBankruptcy).WithDetail(
			"paths", 0, "at least one non-bankrupt path required",
			"the distribution produced universal bankruptcy")
	}

	sorted := append([]float64(nil), selected...)
	sort.Float64s(sorted)

	v, cv, err := varCVaR(sorted, 0.05, varMethod)
	if err != nil {
		return nil, err
	}

	// Equity curve on a per-share capital base of s0: step returns are the
	// aggregate per-path P&L increments normalized by starting capital.
	perPath := float64(len(totals))
	rets := make([]float64, len(stepPnL))
	for t, p := range stepPnL {
		rets[t] = p / perPath / paths.S0
	}

	return &Report{
		MeanPnL:        stat.Mean(selected, nil),
		MedianPnL:      median(sorted),
		Sharpe:         sharpe(rets),
		Sortino:        sortino(rets),
		MaxDrawdown:    maxDrawdown(stepPnL, perPath*paths.S0),
		VaR:            v,
		CVaR:           cv,
		VarMethod:      varMethod,
		BankruptcyRate: paths.BankruptcyRate,
	}, nil
}

func sharpe(rets []float64) float64 {
	mean, std := stat.MeanStdDev(rets, nil)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

func sortino(rets []float64) float64 {
	var downside []float64
	for _, r := range rets {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	std := stat.StdDev(downside, nil)
	if std == 0 {
		return 0
	}
	return stat.Mean(rets, nil) / std * math.Sqrt(252)
}

// maxDrawdown walks the aggregate equity curve from the starting capital.
func maxDrawdown(stepPnL []float64, capital float64) float64 {
	equity := capital
	peak := capital
	worst := 0.0
	for _, p := range stepPnL {
		equity += p
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (equity - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func varCVaR(sorted []float64, alpha float64, method string) (float64, float64, error) {
	var v float64
	switch method {
	case "historical":
		v = stat.Quantile(alpha, stat.Empirical, sorted, nil)
	case "parametric":
		mean, std := stat.MeanStdDev(sorted, nil)
		v = mean + std*distuv.Normal{Mu: 0, Sigma: 1}.Quantile(alpha)
	default:
		return 0, 0, errs.Config().WithDetail("var_method", method,
			"var_method must be historical or parametric", "pick a supported method")
	}

	var tail []float64
	for _, x := range sorted {
		if x <= v {
			tail = append(tail, x)
		}
	}
	cv := v
	if len(tail) > 0 {
		cv = stat.Mean(tail, nil)
	}
	return v, cv, nil
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
