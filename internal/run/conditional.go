package run

import (
	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/data"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/features"
	"github.com/aristath/scenario/internal/mc"
	"github.com/aristath/scenario/internal/selector"
)

// Conditional runs the compare DAG with a distribution conditioned on
// candidate episodes: select episodes, match them against the current state,
// and sample via bootstrap / parametric refit / unconditional fallback.
func (o *Orchestrator) Conditional() (*Result, error) {
	cfg := &o.Resolved.Config

	// Pre-phase: episodes and the base distribution. The compare DAG will
	// re-load and re-fit deterministically for its own record keeping.
	source, err := data.New(cfg, o.Log)
	if err != nil {
		return nil, err
	}
	bars, err := source.Load(cfg.Symbol, cfg.Interval)
	source.Close()
	if err != nil {
		return nil, err
	}

	selCfg := config.SelectorConfig{Name: "gap_volume"}
	if cfg.Selector != nil {
		selCfg = *cfg.Selector
	}
	sel, err := selector.New(selCfg)
	if err != nil {
		return nil, err
	}
	episodes, err := sel.Select(bars)
	if err != nil {
		return nil, err
	}
	episodes = selector.SortAndClip(episodes, selCfg.TopN)

	rets := bars.LogReturns()
	fitRets := rets
	if len(fitRets) > cfg.FitWindow {
		fitRets = fitRets[len(fitRets)-cfg.FitWindow:]
	}
	base, _, err := dist.FitWithFallback(cfg.Distribution, fitRets, cfg.Seed, dist.FitOptions{
		AllowTransform: cfg.AllowTransform,
		Thresholds:     cfg.Thresholds,
	}, cfg.FallbackToDefault, o.Log)
	if err != nil {
		return nil, err
	}

	target := features.State(bars, len(bars.Bars)-1)
	selection := mc.SelectConditional(episodes, rets, target, base, cfg.Seed, cfg.Thresholds, o.Log)

	conditioning := &envelope.Conditioning{
		Method:         selection.Method,
		Matches:        selection.Matches,
		EpisodeCount:   selection.EpisodeCount,
		FallbackUsed:   selection.FallbackUsed,
		FallbackReason: selection.FallbackReason,
	}
	return o.compareWith("conditional", selection.Model, conditioning)
}
