package domain

import (
	"math"

	"github.com/aristath/scenario/internal/errs"
)

// Option types.
const (
	OptionCall = "call"
	OptionPut  = "put"
)

// IV sources, in fallback order.
const (
	IVSourceProvider = "provider"
	IVSourceRealized = "realized_30d"
	IVSourceDefault  = "default"
)

// StrikeATM is the symbolic strike resolved to spot at pricing time.
const StrikeATM = "atm"

// OptionSpec describes the option leg of a strategy.
type OptionSpec struct {
	Type         string  `json:"type" yaml:"type"`
	Strike       float64 `json:"strike" yaml:"strike"`
	StrikeSpec   string  `json:"strike_spec,omitempty" yaml:"strike_spec"` // "atm" resolves to spot
	MaturityDays int     `json:"maturity_days" yaml:"maturity_days"`
	IV           float64 `json:"iv" yaml:"iv"`
	RiskFreeRate float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	Contracts    int     `json:"contracts" yaml:"contracts"`
	IVSource     string  `json:"iv_source" yaml:"iv_source"`
	TickSize     float64 `json:"tick_size,omitempty" yaml:"tick_size"`
}

// Validate enforces the OptionSpec invariants.
func (o *OptionSpec) Validate() error {
	if o.Type != OptionCall && o.Type != OptionPut {
		return errs.Config().WithDetail("option.type", o.Type,
			"type must be call or put", "set option.type to 'call' or 'put'")
	}
	if o.StrikeSpec != StrikeATM && o.Strike <= 0 {
		return errs.Config().WithDetail("option.strike", o.Strike,
			"strike must be positive (or strike_spec: atm)", "set a positive strike")
	}
	if o.IV <= 0 || o.IV > 5 {
		return errs.Config().WithDetail("option.iv", o.IV,
			"iv must be in (0, 5]", "use a plausible implied volatility")
	}
	if o.MaturityDays < 1 {
		return errs.Config().WithDetail("option.maturity_days", o.MaturityDays,
			"maturity_days must be >= 1", "set maturity_days to at least 1")
	}
	if o.Contracts == 0 {
		o.Contracts = 1
	}
	return nil
}

// ResolveStrike returns the effective strike for the given spot, resolving a
// symbolic ATM spec and snapping to the declared tick size with banker's
// rounding.
func (o *OptionSpec) ResolveStrike(spot float64) float64 {
	strike := o.Strike
	if o.StrikeSpec == StrikeATM {
		strike = spot
	}
	if o.TickSize > 0 {
		strike = math.RoundToEven(strike/o.TickSize) * o.TickSize
	}
	return strike
}
