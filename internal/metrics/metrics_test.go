package metrics

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/mc"
	"github.com/aristath/scenario/internal/strategy"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		OverflowCeiling: 1e18, BankruptcyWarnRate: 0.05, BankruptcyFailRate: 0.50,
		MemFractionInline: 0.25, MemFractionMemmap: 0.50, FootprintSafety: 1.1,
		SlippageBps: 5, FeePerShare: 0.005, FeePerContract: 0.65, Epsilon: 1e-8,
	}
}

func genPaths(t *testing.T, loc, scale float64, nPaths, nSteps int) *mc.PricePaths {
	t.Helper()
	g := mc.NewGenerator(8<<30, testThresholds(), zerolog.Nop())
	pp, err := g.Generate(100.0, &dist.Laplace{Loc: loc, Scale: scale}, nPaths, nSteps, 42, false, t.TempDir())
	require.NoError(t, err)
	return pp
}

func TestEvaluate_StockStrategy(t *testing.T) {
	pp := genPaths(t, 0, 0.02, 200, 60)
	defer pp.Close()

	strat, err := strategy.New("dual_sma", domain.KindStock)
	require.NoError(t, err)
	params := domain.StrategyParams{Name: "dual_sma", Kind: domain.KindStock,
		Params: map[string]float64{"short_window": 10, "long_window": 30}}
	sig, err := strat.GenerateSignals(pp, nil, params, nil)
	require.NoError(t, err)

	rep, err := NewEngine(testThresholds()).Evaluate(pp, sig, strat, "historical")
	require.NoError(t, err)

	assert.False(t, rep.Sharpe != rep.Sharpe, "Sharpe must not be NaN")
	assert.LessOrEqual(t, rep.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, rep.VaR, rep.MeanPnL)
	assert.LessOrEqual(t, rep.CVaR, rep.VaR)
	assert.Equal(t, "historical", rep.VarMethod)
	assert.Nil(t, rep.ExclBankrupt)
}

func TestEvaluate_CostsReduceFlatStrategyToNegative(t *testing.T) {
	// A strategy that flips every step pays slippage and fees every step;
	// on a driftless underlying its expectation is strictly negative.
	pp := genPaths(t, 0, 0.02, 300, 40)
	defer pp.Close()

	sig := &strategy.Signals{Stock: make([][]int8, pp.NPaths), Option: make([][]int8, pp.NPaths)}
	for i := range sig.Stock {
		row := make([]int8, pp.NSteps)
		for t2 := range row {
			if t2%2 == 0 {
				row[t2] = 1
			} else {
				row[t2] = -1
			}
		}
		sig.Stock[i] = row
		sig.Option[i] = make([]int8, pp.NSteps)
	}

	strat, _ := strategy.New("dual_sma", domain.KindStock)
	rep, err := NewEngine(testThresholds()).Evaluate(pp, sig, strat, "historical")
	require.NoError(t, err)
	assert.Negative(t, rep.MeanPnL)
}

func TestEvaluate_OptionStrategy(t *testing.T) {
	pp := genPaths(t, 0, 0.02, 100, 40)
	defer pp.Close()

	strat, err := strategy.New("momentum_call", domain.KindOption)
	require.NoError(t, err)
	spec := &domain.OptionSpec{Type: domain.OptionCall, StrikeSpec: domain.StrikeATM,
		MaturityDays: 40, IV: 0.3, RiskFreeRate: 0.02, Contracts: 1}
	sig, err := strat.GenerateSignals(pp, nil, domain.StrategyParams{}, spec)
	require.NoError(t, err)

	rep, err := NewEngine(testThresholds()).Evaluate(pp, sig, strat, "historical")
	require.NoError(t, err)
	assert.False(t, rep.MeanPnL != rep.MeanPnL)
}

func TestEvaluate_BankruptExcludedVariant(t *testing.T) {
	// Drift strong enough for some bankruptcies but below the fail rate.
	g := mc.NewGenerator(8<<30, testThresholds(), zerolog.Nop())
	pp, err := g.Generate(100.0, &dist.Laplace{Loc: -0.15, Scale: 0.25}, 400, 100, 9, false, t.TempDir())
	if err != nil {
		t.Skip("seed produced a cascade above the fail threshold")
	}
	defer pp.Close()
	if len(pp.Bankruptcies) == 0 {
		t.Skip("seed produced no bankruptcies")
	}

	strat, _ := strategy.New("dual_sma", domain.KindStock)
	params := domain.StrategyParams{Params: map[string]float64{"short_window": 5, "long_window": 20}}
	sig, err := strat.GenerateSignals(pp, nil, params, nil)
	require.NoError(t, err)

	rep, err := NewEngine(testThresholds()).Evaluate(pp, sig, strat, "historical")
	require.NoError(t, err)
	require.NotNil(t, rep.ExclBankrupt)
	assert.Equal(t, rep.BankruptcyRate, rep.ExclBankrupt.BankruptcyRate)
	assert.NotEqual(t, rep.MeanPnL, rep.ExclBankrupt.MeanPnL)
}

func TestVarCVaR_ParametricVsHistorical(t *testing.T) {
	sorted := make([]float64, 101)
	for i := range sorted {
		sorted[i] = float64(i) - 50 // uniform -50..50
	}
	vHist, cvHist, err := varCVaR(sorted, 0.05, "historical")
	require.NoError(t, err)
	assert.InDelta(t, -45, vHist, 1.5)
	assert.Less(t, cvHist, vHist)

	vPar, _, err := varCVaR(sorted, 0.05, "parametric")
	require.NoError(t, err)
	assert.Less(t, vPar, 0.0)

	_, _, err = varCVaR(sorted, 0.05, "bogus")
	require.Error(t, err)
}

func TestObjectiveScores_WeightsAndTies(t *testing.T) {
	w := config.ObjectiveWeights{PnL: 0.30, Sharpe: 0.30, Drawdown: 0.20, CVaR: 0.20}
	good := &Report{MeanPnL: 100, Sharpe: 2.0, MaxDrawdown: -0.05, CVaR: -10}
	bad := &Report{MeanPnL: -50, Sharpe: -0.5, MaxDrawdown: -0.40, CVaR: -90}

	scores := ObjectiveScores([]*Report{good, bad}, w, 1e-8)
	assert.Greater(t, scores[0], scores[1])

	// Single config: zero normalization.
	single := ObjectiveScores([]*Report{good}, w, 1e-8)
	assert.Zero(t, single[0])
}
