package run

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/data"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/selector"
)

// EpisodesFileName is the screen artifact.
const EpisodesFileName = "episodes.json"

// ScreenResult carries the globally ranked candidate episodes.
type ScreenResult struct {
	RunID    string
	Dir      string
	Meta     *envelope.RunMetadata
	Episodes []domain.CandidateEpisode
	Sparse   bool
}

// Screen walks the symbol universe, applies the configured selector per
// symbol, and ranks the surviving episodes globally by score.
func (o *Orchestrator) Screen() (*ScreenResult, error) {
	cfg := &o.Resolved.Config
	meta := o.newMeta("screen")
	dir := o.runDir(meta.RunID)

	selCfg := config.SelectorConfig{Name: "gap_volume"}
	if cfg.Selector != nil {
		selCfg = *cfg.Selector
	}
	sel, err := selector.New(selCfg)
	if err != nil {
		o.abort(meta, dir, err)
		return nil, err
	}

	source, err := data.New(cfg, o.Log)
	if err != nil {
		o.abort(meta, dir, err)
		return nil, err
	}
	defer source.Close()

	symbols, err := source.Universe(cfg.Interval)
	if err != nil {
		o.abort(meta, dir, err)
		return nil, err
	}

	res := &ScreenResult{RunID: meta.RunID, Dir: dir, Meta: meta}
	for _, sym := range symbols {
		// The per-symbol budget resets for every evaluation.
		budget := NewBudget(BudgetScreenPerSymbol, cfg.Thresholds, o.Log)

		bars, err := source.Load(sym, cfg.Interval)
		if err != nil {
			o.Log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol: load failed")
			continue
		}
		fp := envelope.Compute(bars)
		meta.DataFingerprint[fp.Key()] = fp

		episodes, err := sel.Select(bars)
		if err != nil {
			o.Log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol: selector failed")
			continue
		}
		res.Episodes = append(res.Episodes, episodes...)

		if err := o.checkpoint(budget, "screen/"+sym); err != nil {
			o.abort(meta, dir, err)
			return res, err
		}
	}

	res.Episodes = selector.SortAndClip(res.Episodes, selCfg.TopN)

	minEpisodes := selCfg.MinEpisodes
	if minEpisodes <= 0 {
		minEpisodes = cfg.Thresholds.MinEpisodes
	}
	if len(res.Episodes) < minEpisodes {
		res.Sparse = true
		meta.Warnings = append(meta.Warnings, "selector produced fewer episodes than min_episodes")
		o.Log.Warn().
			Int("episodes", len(res.Episodes)).
			Int("min_episodes", minEpisodes).
			Msg("sparse episode set")
	}

	if err := writeEpisodes(dir, res.Episodes); err != nil {
		o.abort(meta, dir, err)
		return res, err
	}
	meta.ArtifactPaths = []string{EpisodesFileName}
	meta.CompletionStatus = envelope.StatusSuccess
	if len(meta.Warnings) > 0 {
		meta.CompletionStatus = envelope.StatusWarn
	}
	if _, err := meta.WriteAtomic(dir); err != nil {
		return res, err
	}
	o.Log.Info().
		Str("run_id", meta.RunID).
		Int("episodes", len(res.Episodes)).
		Msg("screen complete")
	return res, nil
}

func writeEpisodes(dir string, episodes []domain.CandidateEpisode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	payload := struct {
		Count     int                       `json:"count"`
		Generated time.Time                 `json:"generated_at"`
		Episodes  []domain.CandidateEpisode `json:"episodes"`
	}{Count: len(episodes), Generated: time.Now().UTC(), Episodes: episodes}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, EpisodesFileName), raw, 0o644)
}
