package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// PricerBlackScholes is the default closed-form European backend.
const PricerBlackScholes = "black_scholes"

func init() {
	Register(PricerBlackScholes, func() Pricer { return &BlackScholes{} })
}

// BlackScholes prices European calls and puts in closed form. Early exercise
// is never automatic; strategies assert an exercise flag and the metrics
// engine's option leg realizes intrinsic value at that step.
type BlackScholes struct{}

func (b *BlackScholes) Name() string { return PricerBlackScholes }

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Price returns the premium and Greeks for one spot. Expired contracts
// (maturity <= 0) collapse to intrinsic value with zero Greeks.
func (b *BlackScholes) Price(spot, strike, maturityYears, rate, iv float64, optType string) (Quote, error) {
	if optType != domain.OptionCall && optType != domain.OptionPut {
		return Quote{}, errs.Config().WithDetail("option.type", optType,
			"type must be call or put", "set option.type to 'call' or 'put'")
	}
	if maturityYears <= 0 {
		return intrinsicQuote(spot, strike, optType), nil
	}
	if iv <= 0 {
		return Quote{}, errs.Numeric(errs.TagInvalidIV).WithDetail(
			"iv", iv, "iv must be positive", "resolve an IV through the source chain")
	}
	if strike <= 0 || spot <= 0 {
		return intrinsicQuote(spot, strike, optType), nil
	}

	sqrtT := math.Sqrt(maturityYears)
	d1 := (math.Log(spot/strike) + (rate+0.5*iv*iv)*maturityYears) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	discount := math.Exp(-rate * maturityYears)
	pdfD1 := stdNormal.Prob(d1)

	var q Quote
	switch optType {
	case domain.OptionCall:
		q.Premium = spot*stdNormal.CDF(d1) - strike*discount*stdNormal.CDF(d2)
		q.Delta = stdNormal.CDF(d1)
		q.Rho = strike * maturityYears * discount * stdNormal.CDF(d2)
		q.Theta = -(spot*pdfD1*iv)/(2*sqrtT) - rate*strike*discount*stdNormal.CDF(d2)
	case domain.OptionPut:
		q.Premium = strike*discount*stdNormal.CDF(-d2) - spot*stdNormal.CDF(-d1)
		q.Delta = stdNormal.CDF(d1) - 1
		q.Rho = -strike * maturityYears * discount * stdNormal.CDF(-d2)
		q.Theta = -(spot*pdfD1*iv)/(2*sqrtT) + rate*strike*discount*stdNormal.CDF(-d2)
	}
	q.Gamma = pdfD1 / (spot * iv * sqrtT)
	q.Vega = spot * pdfD1 * sqrtT

	if !isFinite(q.Premium) {
		return Quote{}, errs.Numeric(errs.TagOverflow).WithDetail(
			"premium", q.Premium, "premium must be finite",
			"check the spot path for overflow")
	}
	return q, nil
}

// PriceVec prices the contract across a spot vector; only premiums are
// produced, which is what the per-step repricing loop consumes.
func (b *BlackScholes) PriceVec(spots []float64, strike, maturityYears, rate, iv float64, optType string, out []float64) error {
	for i, s := range spots {
		q, err := b.Price(s, strike, maturityYears, rate, iv, optType)
		if err != nil {
			return err
		}
		out[i] = q.Premium
	}
	return nil
}

func intrinsicQuote(spot, strike float64, optType string) Quote {
	return Quote{Premium: Intrinsic(spot, strike, optType)}
}

// Intrinsic is the exercise value of the contract.
func Intrinsic(spot, strike float64, optType string) float64 {
	if optType == domain.OptionCall {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

// PriceAlongPath reprices the contract at every step of a price path with
// decreasing time to maturity. Maturity is capped to the path horizon so the
// contract cannot outlive the simulation. out has len(path).
func (b *BlackScholes) PriceAlongPath(path []float64, spec *domain.OptionSpec, out []float64) error {
	if len(path) == 0 {
		return errs.Data().WithDetail("path", 0, "path must be non-empty", "generate paths first")
	}
	strike := spec.ResolveStrike(path[0])
	days := spec.MaturityDays
	if days > len(path)-1 {
		days = len(path) - 1
	}
	if days < 1 {
		days = 1
	}
	contracts := float64(spec.Contracts)
	if contracts == 0 {
		contracts = 1
	}

	for step := range path {
		remaining := float64(days-step) / TradingDaysPerYear
		if path[step] <= 0 {
			// Bankrupt path: a call is worthless, a put pins to strike.
			out[step] = Intrinsic(0, strike, spec.Type) * contracts
			continue
		}
		q, err := b.Price(path[step], strike, remaining, spec.RiskFreeRate, spec.IV, spec.Type)
		if err != nil {
			return err
		}
		out[step] = q.Premium * contracts
	}
	return nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
