package strategy

import (
	talib "github.com/markcheno/go-talib"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/features"
	"github.com/aristath/scenario/internal/mc"
)

func init() {
	Register("dual_sma", domain.KindStock, func() Strategy { return &DualSMA{} })
}

// DualSMA is the baseline stock strategy: long when the short moving average
// sits above the long one, short otherwise, flat during warmup. With a
// target_daily_pnl parameter it becomes the sized variant: the unit signal is
// scaled to the share count that would realize the target on an expected
// daily move, clamped by max_position.
type DualSMA struct{}

func (s *DualSMA) Name() string { return "dual_sma" }
func (s *DualSMA) Kind() string { return domain.KindStock }

func (s *DualSMA) RequiredFeatures() []string { return nil }
func (s *DualSMA) OptionalFeatures() []string { return []string{features.RealizedVol30} }

func (s *DualSMA) GenerateSignals(paths *mc.PricePaths, feats map[string]float64, params domain.StrategyParams, _ *domain.OptionSpec) (*Signals, error) {
	shortW := int(params.Get("short_window", 10))
	longW := int(params.Get("long_window", 30))
	if shortW <= 0 || longW <= 0 {
		return nil, errs.Config().WithDetail("short_window/long_window",
			[2]int{shortW, longW}, "window sizes must be positive",
			"use positive SMA windows")
	}
	if shortW >= longW {
		return nil, errs.Config().WithDetail("short_window", shortW,
			"short_window must be below long_window",
			"swap or widen the windows")
	}

	used, err := checkFeatures(s, feats)
	if err != nil {
		return nil, err
	}

	size := int8(1)
	if target := params.Get("target_daily_pnl", 0); target > 0 {
		// The sized variant needs the realized-vol feature; without it the
		// expectation inversion has no scale.
		vol, ok := feats[features.RealizedVol30]
		if !ok {
			return nil, errs.MissingFeature(features.RealizedVol30)
		}
		size = PositionSize(target, paths.S0, vol, params.Get("max_position", 10))
	}

	sig := &Signals{FeaturesUsed: used}
	sig.Stock = make([][]int8, paths.NPaths)
	sig.Option = make([][]int8, paths.NPaths)

	if longW > paths.NSteps+1 {
		longW = paths.NSteps + 1
	}
	if shortW >= longW {
		shortW = longW - 1
	}
	if shortW < 1 {
		shortW = 1
	}

	err = paths.ForEachRow(func(i int, row []float64) error {
		shortMA := talib.Sma(row, shortW)
		longMA := talib.Sma(row, longW)
		stock := make([]int8, paths.NSteps)
		for t := 0; t < paths.NSteps; t++ {
			if t < longW-1 || row[t] <= 0 {
				continue // warmup or bankrupt: flat
			}
			if shortMA[t] > longMA[t] {
				stock[t] = size
			} else {
				stock[t] = -size
			}
		}
		sig.Stock[i] = stock
		sig.Option[i] = make([]int8, paths.NSteps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}
