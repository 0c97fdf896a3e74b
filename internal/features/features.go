// Package features computes the state features consumed by selectors and
// strategies: overnight gaps, rolling volume z-scores, moving averages and
// realized volatility. Indicator kernels come from go-talib.
package features

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/scenario/internal/domain"
)

// Feature names. Selectors declare requirements against these keys.
const (
	GapPct        = "gap_pct"
	VolumeZ       = "volume_z"
	SMA10         = "sma_10"
	SMA30         = "sma_30"
	RealizedVol30 = "realized_vol_30d"
)

// VolumeZWindow is the rolling window for the volume z-score.
const VolumeZWindow = 20

// Gap returns the overnight gap series: (open[t] - close[t-1]) / close[t-1].
// Index 0 has no prior close and is zero.
func Gap(bars *domain.Bars) []float64 {
	out := make([]float64, len(bars.Bars))
	for i := 1; i < len(bars.Bars); i++ {
		prev := bars.Bars[i-1].Close
		if prev > 0 {
			out[i] = (bars.Bars[i].Open - prev) / prev
		}
	}
	return out
}

// VolumeZScore returns the rolling z-score of volume over the given window.
// The value at index i covers volumes[i-window+1..i]; the first window-1
// entries (no full window yet) are zero.
func VolumeZScore(volumes []float64, window int) []float64 {
	out := make([]float64, len(volumes))
	if len(volumes) < window || window < 2 {
		return out
	}
	sma := talib.Sma(volumes, window)
	sd := talib.StdDev(volumes, window, 1.0)
	for i := window - 1; i < len(volumes); i++ {
		if sd[i] > 0 {
			out[i] = (volumes[i] - sma[i]) / sd[i]
		}
	}
	return out
}

// RealizedVol returns the annualized standard deviation of the trailing
// `window` log-returns, or 0 when the series is too short.
func RealizedVol(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}
	rets := make([]float64, window)
	start := len(closes) - window - 1
	for i := 0; i < window; i++ {
		rets[i] = math.Log(closes[start+i+1] / closes[start+i])
	}
	return stat.StdDev(rets, nil) * math.Sqrt(252)
}

// Series computes the full per-bar feature table for a symbol.
func Series(bars *domain.Bars) map[string][]float64 {
	closes := bars.Closes()
	return map[string][]float64{
		GapPct:  Gap(bars),
		VolumeZ: VolumeZScore(bars.Volumes(), VolumeZWindow),
		SMA10:   talib.Sma(closes, min(10, len(closes))),
		SMA30:   talib.Sma(closes, min(30, len(closes))),
	}
}

// State evaluates the scalar feature vector at one bar index, the shape
// selectors attach to episodes and strategies consume as the "now" state.
func State(bars *domain.Bars, index int) map[string]float64 {
	series := Series(bars)
	state := make(map[string]float64, len(series)+1)
	for name, col := range series {
		if index >= 0 && index < len(col) {
			state[name] = col[index]
		}
	}
	closes := bars.Closes()
	if index+1 <= len(closes) {
		state[RealizedVol30] = RealizedVol(closes[:index+1], 30)
	}
	return state
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
