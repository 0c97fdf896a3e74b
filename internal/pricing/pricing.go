// Package pricing implements option valuation. The default backend is
// closed-form European Black-Scholes; alternative backends register under a
// name and are instantiated by name with New. The metrics engine prices with
// BlackScholes directly; no run config field selects a backend.
package pricing

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// Quote is a premium with its Greeks.
type Quote struct {
	Premium float64 `json:"premium"`
	Delta   float64 `json:"delta"`
	Gamma   float64 `json:"gamma"`
	Vega    float64 `json:"vega"`
	Theta   float64 `json:"theta"`
	Rho     float64 `json:"rho"`
}

// Pricer values European options. Implementations must be safe for
// vectorized use over spot arrays.
type Pricer interface {
	Name() string
	Price(spot, strike, maturityYears, rate, iv float64, optType string) (Quote, error)
	// PriceVec prices one contract across a spot vector, filling out with
	// premiums. len(out) must equal len(spots).
	PriceVec(spots []float64, strike, maturityYears, rate, iv float64, optType string, out []float64) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Pricer{}
)

// Register adds a pricer factory; called from init, frozen afterwards.
func Register(name string, f func() Pricer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New instantiates a registered pricer, defaulting to Black-Scholes.
func New(name string) (Pricer, error) {
	if name == "" {
		name = PricerBlackScholes
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.Config().WithDetail("pricer", name,
			"pricer must name a registered backend", "use one of "+namesList())
	}
	return f(), nil
}

func namesList() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	s := ""
	for i, n := range names {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s
}

// TradingDaysPerYear converts bar maturities to year fractions.
const TradingDaysPerYear = 252.0

// IVQuote is a provider quote from the contract chain, with its age.
type IVQuote struct {
	IV       float64
	QuotedAt time.Time
}

// ResolveIV walks the IV source chain: contract chain, then realized 30-day
// volatility, then the config default. A chain quote older than one bar
// interval is treated as stale and skipped. The source actually used is
// written back onto the spec.
func ResolveIV(spec *domain.OptionSpec, chain *IVQuote, now time.Time, interval time.Duration, realized30 float64, configDefault float64) float64 {
	if chain != nil && chain.IV > 0 && now.Sub(chain.QuotedAt) <= interval {
		spec.IV = chain.IV
		spec.IVSource = domain.IVSourceProvider
		return chain.IV
	}
	if realized30 > 0 {
		spec.IV = realized30
		spec.IVSource = domain.IVSourceRealized
		return realized30
	}
	if spec.IV <= 0 {
		spec.IV = configDefault
	}
	spec.IVSource = domain.IVSourceDefault
	return spec.IV
}
