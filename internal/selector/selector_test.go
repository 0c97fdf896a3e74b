package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
)

// syntheticBars builds a quiet series with a gap+volume spike at spikeAt.
func syntheticBars(n, spikeAt int) *domain.Bars {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		open := price
		if i == spikeAt {
			open = price * 1.08 // 8% overnight gap
		}
		close := open * 1.001
		vol := 1_000_000.0
		if i == spikeAt {
			vol = 6_000_000
		}
		bars[i] = domain.Bar{
			Timestamp: t0.AddDate(0, 0, i),
			Open:      open, High: close * 1.01, Low: open * 0.99,
			Close: close, Volume: vol,
		}
		price = close
	}
	return &domain.Bars{Symbol: "TEST", Interval: "1d", Bars: bars}
}

func defaultCfg() config.SelectorConfig {
	return config.SelectorConfig{
		Name: "gap_volume", GapMin: 0.03, VolumeZMin: 1.5,
		Horizon: 10, MinEpisodes: 30,
	}
}

func TestGapVolume_FindsSpike(t *testing.T) {
	sel, err := New(defaultCfg())
	require.NoError(t, err)

	episodes, err := sel.Select(syntheticBars(120, 60))
	require.NoError(t, err)
	require.Len(t, episodes, 1)

	ep := episodes[0]
	assert.Equal(t, 60, ep.Index)
	assert.Equal(t, "TEST", ep.Symbol)
	assert.Equal(t, 10, ep.Horizon)
	assert.Greater(t, ep.Score, 0.08)
	assert.Contains(t, ep.StateFeatures, "gap_pct")
	assert.Contains(t, ep.StateFeatures, "volume_z")
}

func TestGapVolume_QuietSeriesEmpty(t *testing.T) {
	sel, err := New(defaultCfg())
	require.NoError(t, err)
	episodes, err := sel.Select(syntheticBars(120, -1))
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestGapVolume_RespectsLookback(t *testing.T) {
	sel, _ := New(defaultCfg())
	// Spike inside the warmup window is not scoreable.
	episodes, err := sel.Select(syntheticBars(120, 5))
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestNew_UnknownSelector(t *testing.T) {
	_, err := New(config.SelectorConfig{Name: "breakout"})
	require.Error(t, err)
}

func TestSortAndClip(t *testing.T) {
	t0 := time.Now()
	eps := []domain.CandidateEpisode{
		{Score: 0.1, T0: t0},
		{Score: 0.9, T0: t0.Add(time.Hour)},
		{Score: 0.5, T0: t0.Add(2 * time.Hour)},
		{Score: 0.9, T0: t0.Add(-time.Hour)},
	}
	out := SortAndClip(eps, 3)
	require.Len(t, out, 3)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0.9, out[1].Score)
	// Tie broken by earlier T0 first.
	assert.True(t, out[0].T0.Before(out[1].T0))
	assert.Equal(t, 0.5, out[2].Score)
}
