package strategy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/features"
	"github.com/aristath/scenario/internal/mc"
)

func testPaths(t *testing.T, nPaths, nSteps int) *mc.PricePaths {
	t.Helper()
	th := config.Thresholds{
		OverflowCeiling: 1e18, BankruptcyWarnRate: 0.05, BankruptcyFailRate: 0.50,
		MemFractionInline: 0.25, MemFractionMemmap: 0.50, FootprintSafety: 1.1,
	}
	g := mc.NewGenerator(8<<30, th, zerolog.Nop())
	pp, err := g.Generate(100.0, &dist.Laplace{Loc: 0, Scale: 0.02}, nPaths, nSteps, 42, false, t.TempDir())
	require.NoError(t, err)
	return pp
}

func TestRegistry_Lookup(t *testing.T) {
	s, err := New("dual_sma", domain.KindStock)
	require.NoError(t, err)
	assert.Equal(t, "dual_sma", s.Name())

	_, err = New("dual_sma", domain.KindOption)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestDualSMA_SignalContract(t *testing.T) {
	pp := testPaths(t, 50, 60)
	defer pp.Close()

	s := &DualSMA{}
	params := domain.StrategyParams{Name: "dual_sma", Kind: domain.KindStock,
		Params: map[string]float64{"short_window": 10, "long_window": 30}}
	sig, err := s.GenerateSignals(pp, nil, params, nil)
	require.NoError(t, err)
	require.NoError(t, sig.Validate(50, 60, domain.KindStock))

	for _, row := range sig.Stock {
		for t2, v := range row {
			assert.Contains(t, []int8{-1, 0, 1}, v)
			if t2 < 29 {
				assert.Zero(t, v, "warmup steps must be flat")
			}
		}
	}
}

func TestDualSMA_RejectsDegenerateWindows(t *testing.T) {
	pp := testPaths(t, 5, 30)
	defer pp.Close()

	s := &DualSMA{}
	params := domain.StrategyParams{Params: map[string]float64{"short_window": 30, "long_window": 10}}
	_, err := s.GenerateSignals(pp, nil, params, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestDualSMA_SizedVariantNeedsVol(t *testing.T) {
	pp := testPaths(t, 5, 60)
	defer pp.Close()

	s := &DualSMA{}
	params := domain.StrategyParams{Params: map[string]float64{
		"short_window": 10, "long_window": 30, "target_daily_pnl": 50}}

	_, err := s.GenerateSignals(pp, map[string]float64{}, params, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindMissingFeature, errs.KindOf(err))

	sig, err := s.GenerateSignals(pp, map[string]float64{features.RealizedVol30: 0.25}, params, nil)
	require.NoError(t, err)
	var maxAbs int8
	for _, row := range sig.Stock {
		for _, v := range row {
			if v > maxAbs {
				maxAbs = v
			}
			if -v > maxAbs {
				maxAbs = -v
			}
		}
	}
	assert.Greater(t, maxAbs, int8(1), "sized variant should scale beyond unit positions")
}

func TestMomentumCall_RequiresOptionSpec(t *testing.T) {
	pp := testPaths(t, 5, 30)
	defer pp.Close()

	s := &MomentumCall{}
	_, err := s.GenerateSignals(pp, nil, domain.StrategyParams{}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestMomentumCall_SignalsFollowReturns(t *testing.T) {
	pp := testPaths(t, 20, 40)
	defer pp.Close()

	spec := &domain.OptionSpec{Type: domain.OptionCall, StrikeSpec: domain.StrikeATM,
		MaturityDays: 40, IV: 0.3, Contracts: 1}
	s := &MomentumCall{}
	sig, err := s.GenerateSignals(pp, nil, domain.StrategyParams{}, spec)
	require.NoError(t, err)
	require.NoError(t, sig.Validate(20, 40, domain.KindOption))

	buf := make([]float64, 41)
	row, err := pp.Row(3, buf)
	require.NoError(t, err)
	for t2 := 1; t2 < 40; t2++ {
		want := int8(0)
		if row[t2] >= row[t2-1] {
			want = 1
		}
		assert.Equal(t, want, sig.Option[3][t2])
	}
}

func TestPositionSize_ClampsToCap(t *testing.T) {
	// Huge target, small expected move: the cap must clamp.
	size := PositionSize(1e6, 100, 0.2, 10)
	assert.Equal(t, int8(10), size)

	assert.Equal(t, int8(1), PositionSize(0, 100, 0.2, 10))
	assert.Equal(t, int8(1), PositionSize(50, 100, 0, 10))
}

func TestSignalsValidate_ShapeMismatch(t *testing.T) {
	sig := &Signals{Stock: make([][]int8, 4)}
	for i := range sig.Stock {
		sig.Stock[i] = make([]int8, 10)
	}
	require.NoError(t, sig.Validate(4, 10, domain.KindStock))
	require.Error(t, sig.Validate(5, 10, domain.KindStock))
	require.Error(t, sig.Validate(4, 11, domain.KindStock))
}

func TestCheckEarlyExercise(t *testing.T) {
	s := &MomentumCall{exerciseRatio: 2.0}
	assert.True(t, s.CheckEarlyExercise(PositionState{Intrinsic: 10, Premium: 4}))
	assert.False(t, s.CheckEarlyExercise(PositionState{Intrinsic: 5, Premium: 4}))

	off := &MomentumCall{}
	assert.False(t, off.CheckEarlyExercise(PositionState{Intrinsic: 100, Premium: 1}))
}
