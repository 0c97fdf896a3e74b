// Package run composes the engine components into the five commands:
// compare, grid, screen, conditional and replay. Each command executes a
// strict stage DAG; structured errors abort at stage boundaries and leave
// partial artifacts in a directory tagged incomplete.
package run

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/data"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/features"
	"github.com/aristath/scenario/internal/mc"
	"github.com/aristath/scenario/internal/metrics"
	"github.com/aristath/scenario/internal/pricing"
	"github.com/aristath/scenario/internal/resources"
	"github.com/aristath/scenario/internal/rng"
	"github.com/aristath/scenario/internal/strategy"
)

// Orchestrator owns one run: the resolved config, the fitted distribution,
// the generated paths and the signals. Everything is released or persisted at
// run closure.
type Orchestrator struct {
	Resolved *config.Resolved
	Log      zerolog.Logger
	Cancel   *Flag
	Res      resources.Snapshot

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	// FixedRunID pins the run directory name; the grid scheduler uses the
	// config content hash so completed configs are addressable on resume.
	FixedRunID string
}

// New builds an orchestrator with detected machine resources.
func New(resolved *config.Resolved, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Resolved: resolved,
		Log:      log.With().Str("component", "orchestrator").Logger(),
		Cancel:   &Flag{},
		Res:      resources.Detect(),
		Now:      time.Now,
	}
}

// availableRAM is the per-worker RAM budget the storage policy sizes
// against: the configured ceiling when set, the measured per-worker share
// otherwise.
func (o *Orchestrator) availableRAM() uint64 {
	if mb := o.Resolved.Config.Resources.MemThresholdMB; mb > 0 {
		return uint64(mb) << 20
	}
	return o.Res.PerWorkerRAM()
}

// Result is the outcome of a compare-shaped run.
type Result struct {
	RunID   string
	Dir     string
	Meta    *envelope.RunMetadata
	Metrics *MetricsArtifact
}

// newMeta seeds the metadata envelope for a fresh run.
func (o *Orchestrator) newMeta(command string) *envelope.RunMetadata {
	now := o.Now().UTC()
	cv := envelope.CaptureCodeVersion(o.Log)
	runID := o.FixedRunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return &envelope.RunMetadata{
		RunID:           runID,
		Command:         command,
		CreatedAt:       now,
		Config:          *o.Resolved,
		CodeVersion:     cv,
		SourceVersionID: envelope.SourceVersionID(o.Resolved.Config.DataSource, now, cv),
		Environment:     envelope.CaptureEnvironment(),
		DataFingerprint: map[string]envelope.Fingerprint{},
	}
}

func (o *Orchestrator) runDir(runID string) string {
	return filepath.Join(o.Resolved.Config.OutDir, runID)
}

// abort persists what the run produced so far under the incomplete tag.
// Config errors abort before any compute and leave nothing behind.
func (o *Orchestrator) abort(meta *envelope.RunMetadata, dir string, err error) {
	if errs.KindOf(err) == errs.KindConfig {
		return
	}
	meta.ErrorTag = errs.TagOf(err)
	meta.CompletionStatus = envelope.StatusIncomplete
	if k := errs.KindOf(err); k == errs.KindFit || k == errs.KindNumeric {
		// Numerical failures still emit a (partial) metadata record.
		meta.CompletionStatus = envelope.StatusFail
	}
	MarkIncomplete(dir)
	if _, werr := meta.WriteAtomic(dir); werr != nil {
		o.Log.Error().Err(werr).Msg("failed to persist partial metadata")
	}
	o.Log.Error().
		Str("error_tag", meta.ErrorTag).
		Str("run_id", meta.RunID).
		Msg("run aborted")
}

// checkpoint guards a stage boundary: cancellation first, then the budget
// tiers.
func (o *Orchestrator) checkpoint(b *Budget, stage string) error {
	if o.Cancel.IsSet() {
		return errs.Partial().WithDetail("stage", stage,
			"shutdown requested", "re-run to completion")
	}
	return b.Check(stage)
}

// Compare executes the stock-vs-option baseline: fit, generate, run both
// strategy legs over the same paths, score, persist.
func (o *Orchestrator) Compare() (*Result, error) {
	return o.compareWith("compare", nil, nil)
}

// compareWith is the shared compare DAG. When condModel is non-nil it
// replaces the fitted distribution for path generation (conditional runs);
// conditioning is recorded in the metadata.
func (o *Orchestrator) compareWith(command string, condModel dist.Model, conditioning *envelope.Conditioning) (*Result, error) {
	cfg := &o.Resolved.Config
	meta := o.newMeta(command)
	dir := o.runDir(meta.RunID)
	budget := NewBudget(BudgetCompare, cfg.Thresholds, o.Log)

	res := &Result{RunID: meta.RunID, Dir: dir, Meta: meta}

	// Load and schema-check data.
	source, err := data.New(cfg, o.Log)
	if err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	defer source.Close()

	bars, err := source.Load(cfg.Symbol, cfg.Interval)
	if err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	if err := o.checkpoint(budget, "load_data"); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}

	// Fingerprint before any compute on the data.
	fp := envelope.Compute(bars)
	meta.DataFingerprint[fp.Key()] = fp

	// Fit (or accept the conditional model).
	rets := bars.LogReturns()
	if len(rets) > cfg.FitWindow {
		rets = rets[len(rets)-cfg.FitWindow:]
	}
	model, fitRec, err := dist.FitWithFallback(cfg.Distribution, rets, cfg.Seed, dist.FitOptions{
		AllowTransform: cfg.AllowTransform,
		Thresholds:     cfg.Thresholds,
	}, cfg.FallbackToDefault, o.Log)
	meta.FitRecord = fitRec
	if err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	if fitRec.FallbackFrom != "" {
		meta.FallbackModel = model.Name()
		meta.Warnings = append(meta.Warnings, "distribution fallback engaged: "+fitRec.FallbackFrom+" -> "+model.Name())
	}
	if fitRec.Status == dist.StatusWarn {
		meta.Warnings = append(meta.Warnings, "fit marked warn: excess kurtosis in the warn band")
	}
	if err := o.checkpoint(budget, "fit"); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}

	sampler := model
	if condModel != nil {
		sampler = condModel
		meta.Conditioning = conditioning
	}

	// Storage policy + generation.
	gen := mc.NewGenerator(o.availableRAM(), cfg.Thresholds, o.Log)
	pathSeed := rng.Derive(cfg.Seed, "paths")
	paths, err := gen.Generate(cfg.S0, sampler, cfg.NPaths, cfg.NSteps, pathSeed, cfg.Resources.Persistent, dir)
	if paths != nil {
		meta.PathStorage = string(paths.Tag)
		meta.PathsHash = paths.Hash
		meta.BankruptcyRate = paths.BankruptcyRate
		meta.BankruptcyHistogram = mc.FirstCrossingHistogram(paths.Bankruptcies, cfg.NSteps, 10)
		defer paths.Close()
	}
	if err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	if paths.BankruptcyRate > cfg.Thresholds.BankruptcyWarnRate {
		meta.Warnings = append(meta.Warnings, "bankruptcy rate above warn threshold")
	}
	if err := o.checkpoint(budget, "generate"); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}

	// Strategies + metrics.
	art, err := o.evaluateStrategies(bars, paths, meta)
	if err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	res.Metrics = art
	if err := o.checkpoint(budget, "metrics"); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}

	// Persist artifacts and close the run.
	if err := WriteMetrics(dir, art); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	meta.ArtifactPaths = []string{MetricsJSONName, MetricsCSVName}
	if paths.Tag != mc.StorageMemory && paths.Path != "" {
		meta.ArtifactPaths = append(meta.ArtifactPaths, filepath.Base(paths.Path))
	}
	meta.CompletionStatus = envelope.StatusSuccess
	if len(meta.Warnings) > 0 {
		meta.CompletionStatus = envelope.StatusWarn
	}
	if _, err := meta.WriteAtomic(dir); err != nil {
		return res, err
	}
	o.Log.Info().
		Str("run_id", meta.RunID).
		Str("status", meta.CompletionStatus).
		Dur("elapsed", budget.Elapsed()).
		Msg("run complete")
	return res, nil
}

// evaluateStrategies runs the stock leg and, when an option spec is present,
// the option leg over the same paths.
func (o *Orchestrator) evaluateStrategies(bars *domain.Bars, paths *mc.PricePaths, meta *envelope.RunMetadata) (*MetricsArtifact, error) {
	cfg := &o.Resolved.Config
	engine := metrics.NewEngine(cfg.Thresholds)
	state := features.State(bars, len(bars.Bars)-1)

	art := &MetricsArtifact{}

	stockStrat, err := strategy.New(cfg.Strategy.Name, domain.KindStock)
	if err != nil {
		return nil, err
	}
	stockSig, err := stockStrat.GenerateSignals(paths, state, cfg.Strategy, nil)
	if err != nil {
		return nil, err
	}
	art.Stock, err = engine.Evaluate(paths, stockSig, stockStrat, cfg.VarMethod)
	if err != nil {
		return nil, err
	}

	if cfg.OptionSpec != nil {
		spec := *cfg.OptionSpec // frozen copy; IV resolution mutates it
		realized := features.RealizedVol(bars.Closes(), 30)
		pricing.ResolveIV(&spec, nil, o.Now(), domain.IntervalDuration(cfg.Interval), realized, spec.IV)
		meta.IVSource = spec.IVSource

		optParams := domain.StrategyParams{Name: "momentum_call", Kind: domain.KindOption}
		if cfg.OptionStrategy != nil {
			optParams = *cfg.OptionStrategy
		}
		optStrat, err := strategy.New(optParams.Name, domain.KindOption)
		if err != nil {
			return nil, err
		}
		optSig, err := optStrat.GenerateSignals(paths, state, optParams, &spec)
		if err != nil {
			return nil, err
		}
		art.Option, err = engine.Evaluate(paths, optSig, optStrat, cfg.VarMethod)
		if err != nil {
			return nil, err
		}
	}
	return art, nil
}
