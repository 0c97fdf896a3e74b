// Package grid fans the compare pipeline out over a strategy-parameter grid:
// shared-nothing workers, per-config artifacts written immediately, resume by
// content-hashed config IDs, and composite-objective ranking over the
// completed set.
package grid

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/metrics"
	"github.com/aristath/scenario/internal/resources"
	"github.com/aristath/scenario/internal/rng"
	"github.com/aristath/scenario/internal/run"
)

// Config statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped" // completed in a prior attempt, resumed over
)

// ConfigResult is one cell of the grid.
type ConfigResult struct {
	ConfigID string                `json:"config_id"`
	Params   domain.StrategyParams `json:"params"`
	Status   string                `json:"status"`
	ErrorTag string                `json:"error_tag,omitempty"`
	Report   *metrics.Report       `json:"report,omitempty"`
	Score    float64               `json:"objective_score"`
}

// Result is the grid outcome.
type Result struct {
	GridID    string
	Dir       string
	Results   []ConfigResult
	Ranking   []ConfigResult // completed only, best first
	Partial   bool           // interrupted before all configs dispatched
	Completed int
	Failed    int
}

// Scheduler runs the grid.
type Scheduler struct {
	resolved *config.Resolved
	log      zerolog.Logger
	cancel   *run.Flag
	res      resources.Snapshot
}

// NewScheduler builds a grid scheduler sharing the caller's cancellation
// flag.
func NewScheduler(resolved *config.Resolved, cancel *run.Flag, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		resolved: resolved,
		log:      log.With().Str("component", "grid").Logger(),
		cancel:   cancel,
		res:      resources.Detect(),
	}
}

// Run executes every config in the grid. A per-config failure marks that
// cell failed and the grid continues; an interrupt drains in-flight workers
// and writes a partial manifest.
func (s *Scheduler) Run() (*Result, error) {
	cfg := &s.resolved.Config
	if len(cfg.Grid) == 0 {
		return nil, errs.Config().WithDetail("grid", 0,
			"grid requires at least one strategy parameter set",
			"add grid entries to the config file")
	}

	gridID := uuid.New().String()
	gridDir := filepath.Join(cfg.OutDir, gridID)
	configsDir := filepath.Join(gridDir, "configs")
	if err := os.MkdirAll(configsDir, 0o755); err != nil {
		return nil, errs.Unclassified(err)
	}

	workers := s.res.WorkerCount(cfg.Resources.MaxWorkers)
	s.log.Info().
		Int("configs", len(cfg.Grid)).
		Int("workers", workers).
		Str("grid_id", gridID).
		Msg("grid dispatch")

	type job struct {
		index  int
		params domain.StrategyParams
	}
	jobs := make(chan job)
	results := make([]ConfigResult, len(cfg.Grid))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = s.runConfig(configsDir, j.params)
			}
		}()
	}

	partial := false
	budget := run.NewBudget(run.BudgetGrid, cfg.Thresholds, s.log)
dispatch:
	for i, params := range cfg.Grid {
		// Workers drain in-flight configs on interrupt; nothing new is
		// dispatched.
		if s.cancel.IsSet() {
			partial = true
			for k := i; k < len(cfg.Grid); k++ {
				results[k] = ConfigResult{
					ConfigID: cfg.Grid[k].ConfigID(),
					Params:   cfg.Grid[k],
					Status:   StatusFailed,
					ErrorTag: "PartialCompletion",
				}
			}
			break dispatch
		}
		if err := budget.Check("dispatch"); err != nil {
			partial = true
			for k := i; k < len(cfg.Grid); k++ {
				results[k] = ConfigResult{
					ConfigID: cfg.Grid[k].ConfigID(),
					Params:   cfg.Grid[k],
					Status:   StatusFailed,
					ErrorTag: errs.TagOf(err),
				}
			}
			break dispatch
		}
		jobs <- job{index: i, params: params}
	}
	close(jobs)
	wg.Wait()

	out := &Result{GridID: gridID, Dir: gridDir, Results: results, Partial: partial}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess, StatusSkipped:
			out.Completed++
		case StatusFailed:
			out.Failed++
		}
	}

	rankConfigs(out, cfg)
	if err := writeRanking(gridDir, out); err != nil {
		return out, err
	}
	if partial {
		if err := writeManifest(gridDir, out); err != nil {
			return out, err
		}
		return out, errs.Partial().WithDetail("completed", out.Completed,
			"grid interrupted before all configs completed",
			"resume the grid to finish the remaining configs")
	}
	s.log.Info().
		Int("completed", out.Completed).
		Int("failed", out.Failed).
		Msg("grid complete")
	return out, nil
}

// runConfig executes one cell with a frozen config copy. Completed configs
// from a prior attempt are detected by their content-hashed ID and skipped.
func (s *Scheduler) runConfig(configsDir string, params domain.StrategyParams) ConfigResult {
	configID := params.ConfigID()
	result := ConfigResult{ConfigID: configID, Params: params}
	cellDir := filepath.Join(configsDir, configID)

	// Resume: a closed metadata envelope marks the config done.
	if prior, err := envelope.LoadMetadata(filepath.Join(cellDir, envelope.MetaFileName)); err == nil {
		if prior.CompletionStatus == envelope.StatusSuccess || prior.CompletionStatus == envelope.StatusWarn {
			s.log.Debug().Str("config_id", configID).Msg("skipping completed config")
			result.Status = StatusSkipped
			if art, aerr := loadMetricsArtifact(cellDir); aerr == nil {
				result.Report = pickLeg(art, params.Kind)
			}
			return result
		}
	}

	// Frozen copy: mid-run config file changes cannot reach in-flight
	// workers, and the worker seed derives from (parent seed, config_id).
	frozen := *s.resolved
	frozen.Config.Strategy = params
	if params.Kind == domain.KindOption && frozen.Config.OptionStrategy == nil {
		frozen.Config.OptionStrategy = &params
	}
	frozen.Config.OutDir = configsDir
	frozen.Config.Seed = rng.Derive(s.resolved.Config.Seed, "config/"+configID)

	worker := run.New(&frozen, s.log.With().Str("config_id", configID).Logger())
	worker.Cancel = s.cancel
	worker.FixedRunID = configID

	runRes, err := worker.Compare()
	if err != nil {
		result.Status = StatusFailed
		result.ErrorTag = errs.TagOf(err)
		s.log.Warn().
			Str("config_id", configID).
			Str("error_tag", result.ErrorTag).
			Msg("grid config failed")
		return result
	}
	result.Status = StatusSuccess
	if runRes.Metrics != nil {
		result.Report = pickLeg(runRes.Metrics, params.Kind)
	}
	return result
}

func pickLeg(art *run.MetricsArtifact, kind string) *metrics.Report {
	if kind == domain.KindOption && art.Option != nil {
		return art.Option
	}
	return art.Stock
}
