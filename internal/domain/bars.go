// Package domain holds the core data model shared by every module: historical
// bars, option specifications, strategy parameters and candidate episodes.
// The package is pure: no infrastructure dependencies.
package domain

import (
	"math"
	"time"

	"github.com/aristath/scenario/internal/errs"
)

// Bar is a single timestamped OHLCV record at a fixed interval.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Bars is an ordered bar sequence for one (symbol, interval). Immutable once
// loaded: loaders hand out the slice and nothing downstream mutates it.
type Bars struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Bars     []Bar  `json:"bars"`

	// GapFlags holds indices of bars whose distance to the previous bar
	// exceeds the gap tolerance. Flagged, not fatal.
	GapFlags []int `json:"gap_flags,omitempty"`
}

// Gap tolerance: distance to previous bar above 3x the nominal interval is
// flagged.
const gapToleranceFactor = 3

// IntervalDuration maps the interval tag to its nominal bar duration.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "1d", "":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Validate checks the bar sequence invariants: strictly monotonic timestamps
// and positive prices. Gaps beyond tolerance are recorded in GapFlags rather
// than failing the load.
func (b *Bars) Validate() error {
	if len(b.Bars) == 0 {
		return errs.Data().WithDetail("bars", 0, "at least one bar required",
			"check the symbol and interval against the data store")
	}

	interval := IntervalDuration(b.Interval)
	b.GapFlags = nil

	for i, bar := range b.Bars {
		if bar.Close <= 0 || bar.Open <= 0 {
			return errs.Data().WithDetail("close", bar.Close,
				"prices must be positive", "re-fetch the affected rows from the provider")
		}
		if i == 0 {
			continue
		}
		delta := bar.Timestamp.Sub(b.Bars[i-1].Timestamp)
		if delta <= 0 {
			return errs.Data().WithDetail("timestamp", bar.Timestamp,
				"timestamps must be strictly monotonic",
				"sort the bars or deduplicate the partition")
		}
		if delta > gapToleranceFactor*interval {
			b.GapFlags = append(b.GapFlags, i)
		}
	}
	return nil
}

// Closes returns the close column.
func (b *Bars) Closes() []float64 {
	out := make([]float64, len(b.Bars))
	for i, bar := range b.Bars {
		out[i] = bar.Close
	}
	return out
}

// Volumes returns the volume column.
func (b *Bars) Volumes() []float64 {
	out := make([]float64, len(b.Bars))
	for i, bar := range b.Bars {
		out[i] = bar.Volume
	}
	return out
}

// LogReturns computes log-returns over the close column. The result has
// length len(bars)-1. Non-finite values (from zero closes) are rejected
// upstream by Validate.
func (b *Bars) LogReturns() []float64 {
	closes := b.Closes()
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out[i-1] = math.Log(closes[i] / closes[i-1])
	}
	return out
}
