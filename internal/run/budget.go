package run

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
)

// Flag is the cooperative cancellation flag: single writer (the signal
// handler), many readers (stage boundaries). Kernels are never interrupted
// mid-flight; the orchestrator checks between them.
type Flag struct {
	v atomic.Bool
}

// Set flips the flag. Idempotent.
func (f *Flag) Set() { f.v.Store(true) }

// IsSet reports whether shutdown was requested.
func (f *Flag) IsSet() bool { return f.v.Load() }

// Wall-clock budgets per command. Checked at stage boundaries, not inside
// kernels.
const (
	BudgetCompare         = 10 * time.Second
	BudgetGrid            = 15 * time.Minute
	BudgetScreenPerSymbol = 1 * time.Second
)

// Budget tracks elapsed wall-clock against a command budget with the tiered
// observability contract: INFO at 1.5x, WARN at 2x, ERROR at 3x (fatal).
type Budget struct {
	start time.Time
	limit time.Duration
	th    config.Thresholds
	log   zerolog.Logger
}

// NewBudget starts the clock for one command.
func NewBudget(limit time.Duration, th config.Thresholds, log zerolog.Logger) *Budget {
	return &Budget{
		start: time.Now(),
		limit: limit,
		th:    th,
		log:   log.With().Str("component", "budget").Logger(),
	}
}

// Check evaluates the elapsed time at a stage boundary. Crossing the error
// tier is fatal.
func (b *Budget) Check(stage string) error {
	elapsed := time.Since(b.start)
	ratio := float64(elapsed) / float64(b.limit)

	switch {
	case ratio >= b.th.BudgetErrorMult:
		b.log.Error().
			Str("stage", stage).
			Dur("elapsed", elapsed).
			Dur("budget", b.limit).
			Msg("wall-clock budget exceeded error tier")
		return errs.Resource().WithDetail("elapsed", elapsed.String(),
			"command must finish within 3x its wall-clock budget",
			"reduce the workload or raise the command budget")
	case ratio >= b.th.BudgetWarnMult:
		b.log.Warn().
			Str("stage", stage).
			Dur("elapsed", elapsed).
			Dur("budget", b.limit).
			Msg("wall-clock budget exceeded warn tier")
	case ratio >= b.th.BudgetInfoMult:
		b.log.Info().
			Str("stage", stage).
			Dur("elapsed", elapsed).
			Dur("budget", b.limit).
			Msg("wall-clock budget exceeded info tier")
	}
	return nil
}

// Elapsed is the time since the command started.
func (b *Budget) Elapsed() time.Duration { return time.Since(b.start) }
