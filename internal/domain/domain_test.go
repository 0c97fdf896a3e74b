package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/errs"
)

func mkBars(n int) *Bars {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, n)
	price := 100.0
	for i := range bars {
		price *= 1.001
		bars[i] = Bar{Timestamp: t0.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return &Bars{Symbol: "T", Interval: "1d", Bars: bars}
}

func TestBarsValidate_Monotonic(t *testing.T) {
	b := mkBars(10)
	require.NoError(t, b.Validate())

	b.Bars[5].Timestamp = b.Bars[4].Timestamp
	err := b.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.KindData, errs.KindOf(err))
}

func TestBarsValidate_GapFlagged(t *testing.T) {
	b := mkBars(10)
	// A 10-day hole in daily bars is beyond the 3x tolerance; flagged, not
	// fatal.
	for i := 6; i < 10; i++ {
		b.Bars[i].Timestamp = b.Bars[i].Timestamp.AddDate(0, 0, 10)
	}
	require.NoError(t, b.Validate())
	assert.Equal(t, []int{6}, b.GapFlags)
}

func TestBarsValidate_RejectsNonPositive(t *testing.T) {
	b := mkBars(10)
	b.Bars[3].Close = 0
	require.Error(t, b.Validate())
}

func TestLogReturns(t *testing.T) {
	b := mkBars(5)
	rets := b.LogReturns()
	require.Len(t, rets, 4)
	for _, r := range rets {
		assert.InDelta(t, 0.001, r, 1e-6) // log(1.001)
	}
}

func TestOptionSpecValidate(t *testing.T) {
	ok := &OptionSpec{Type: OptionCall, Strike: 100, MaturityDays: 30, IV: 0.3}
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1, ok.Contracts) // defaulted

	bad := &OptionSpec{Type: "straddle", Strike: 100, MaturityDays: 30, IV: 0.3}
	require.Error(t, bad.Validate())

	badIV := &OptionSpec{Type: OptionPut, Strike: 100, MaturityDays: 30, IV: 6}
	require.Error(t, badIV.Validate())

	atm := &OptionSpec{Type: OptionCall, StrikeSpec: StrikeATM, MaturityDays: 30, IV: 0.3}
	require.NoError(t, atm.Validate())
	assert.Equal(t, 101.25, atm.ResolveStrike(101.25))
}

func TestConfigID_Deterministic(t *testing.T) {
	a := StrategyParams{Name: "dual_sma", Kind: KindStock, Params: map[string]float64{"a": 1, "b": 2}}
	b := StrategyParams{Name: "dual_sma", Kind: KindStock, Params: map[string]float64{"b": 2, "a": 1}}
	assert.Equal(t, a.ConfigID(), b.ConfigID())

	c := StrategyParams{Name: "dual_sma", Kind: KindStock, Params: map[string]float64{"a": 1, "b": 3}}
	assert.NotEqual(t, a.ConfigID(), c.ConfigID())
}

func TestEpisodeValidate(t *testing.T) {
	ep := &CandidateEpisode{
		Symbol: "T", T0: time.Now(), Index: 5, Horizon: 10,
		StateFeatures: map[string]float64{"gap_pct": 0.05},
	}
	require.NoError(t, ep.Validate(100, []string{"gap_pct"}))
	require.Error(t, ep.Validate(100, []string{"volume_z"}))
	require.Error(t, ep.Validate(3, nil)) // t0 outside the index

	ep.Horizon = 0
	require.Error(t, ep.Validate(100, nil))
}
