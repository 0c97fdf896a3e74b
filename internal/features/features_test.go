package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/domain"
)

func featureBars(n int) *domain.Bars {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		open := price
		if i == 40 {
			open = price * 1.05
		}
		price = open * 1.002
		vol := 1_000_000.0 + 1000*float64(i%9)
		if i == 40 {
			vol = 5_000_000
		}
		bars[i] = domain.Bar{Timestamp: t0.AddDate(0, 0, i), Open: open,
			High: price, Low: open, Close: price, Volume: vol}
	}
	return &domain.Bars{Symbol: "T", Interval: "1d", Bars: bars}
}

func TestGap_DetectsOvernightJump(t *testing.T) {
	gaps := Gap(featureBars(60))
	assert.Zero(t, gaps[0])
	assert.InDelta(t, 0.05, gaps[40], 1e-9)
	assert.InDelta(t, 0.0, gaps[20], 1e-9)
}

func TestVolumeZScore_SpikesPositive(t *testing.T) {
	bars := featureBars(60)
	z := VolumeZScore(bars.Volumes(), VolumeZWindow)
	assert.Greater(t, z[40], 3.0)
	// Warmup entries stay zero.
	for i := 0; i < VolumeZWindow-1; i++ {
		assert.Zero(t, z[i])
	}
}

func TestRealizedVol_ShortSeriesZero(t *testing.T) {
	assert.Zero(t, RealizedVol([]float64{100, 101}, 30))

	bars := featureBars(60)
	vol := RealizedVol(bars.Closes(), 30)
	assert.Greater(t, vol, 0.0)
}

func TestState_CoversDeclaredFeatures(t *testing.T) {
	bars := featureBars(60)
	state := State(bars, 59)
	for _, key := range []string{GapPct, VolumeZ, SMA10, SMA30, RealizedVol30} {
		_, ok := state[key]
		require.True(t, ok, "missing feature %s", key)
	}
}
