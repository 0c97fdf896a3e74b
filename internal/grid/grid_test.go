package grid

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/run"
	"github.com/aristath/scenario/pkg/logger"
)

func loadMeta(dir string) (*envelope.RunMetadata, error) {
	return envelope.LoadMetadata(filepath.Join(dir, envelope.MetaFileName))
}

func gridResolved(t *testing.T, entries []domain.StrategyParams) *config.Resolved {
	t.Helper()
	resolved, err := config.Resolve("", map[string]string{
		"out_dir": t.TempDir(), "log_level": "error",
		"seed": "42", "n_paths": "100", "n_steps": "20",
	})
	require.NoError(t, err)
	resolved.Config.Grid = entries
	return resolved
}

func smaParams(short, long float64) domain.StrategyParams {
	return domain.StrategyParams{
		Name: "dual_sma", Kind: domain.KindStock,
		Params: map[string]float64{"short_window": short, "long_window": long},
	}
}

func TestGrid_PartialFailure(t *testing.T) {
	// Two of ten configs carry degenerate windows and must fail without
	// stopping the grid; the ranking covers the eight survivors.
	entries := []domain.StrategyParams{
		smaParams(3, 10), smaParams(4, 12), smaParams(5, 15),
		smaParams(20, 5), // invalid: short >= long
		smaParams(6, 18), smaParams(7, 14),
		smaParams(15, 2), // invalid
		smaParams(8, 16), smaParams(9, 19), smaParams(2, 11),
	}
	resolved := gridResolved(t, entries)
	sched := NewScheduler(resolved, &run.Flag{}, logger.New(logger.Config{Level: "error"}))

	res, err := sched.Run()
	require.NoError(t, err, "per-config failures are grid-level success")
	assert.Equal(t, 8, res.Completed)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Ranking, 8)
	assert.False(t, res.Partial)

	for _, r := range res.Results {
		if r.Status == StatusFailed {
			assert.Equal(t, "ConfigError", r.ErrorTag)
		}
	}

	// ranking.json holds the completed entries, best first.
	raw, err := os.ReadFile(filepath.Join(res.Dir, RankingFileName))
	require.NoError(t, err)
	var ranking []ConfigResult
	require.NoError(t, json.Unmarshal(raw, &ranking))
	assert.Len(t, ranking, 8)
	for i := 1; i < len(ranking); i++ {
		assert.GreaterOrEqual(t, ranking[i-1].Score, ranking[i].Score)
	}
}

func TestGrid_WorkerInvariance(t *testing.T) {
	entries := []domain.StrategyParams{
		smaParams(3, 10), smaParams(4, 12), smaParams(5, 15), smaParams(6, 18),
	}

	rankIDs := func(maxWorkers int) []string {
		resolved := gridResolved(t, entries)
		resolved.Config.Resources.MaxWorkers = maxWorkers
		sched := NewScheduler(resolved, &run.Flag{}, logger.New(logger.Config{Level: "error"}))
		res, err := sched.Run()
		require.NoError(t, err)
		ids := make([]string, len(res.Ranking))
		for i, r := range res.Ranking {
			ids[i] = r.ConfigID
		}
		return ids
	}

	assert.Equal(t, rankIDs(1), rankIDs(4))
}

func TestGrid_ResumeSkipsCompleted(t *testing.T) {
	entries := []domain.StrategyParams{smaParams(3, 10), smaParams(4, 12)}
	resolved := gridResolved(t, entries)
	sched := NewScheduler(resolved, &run.Flag{}, logger.New(logger.Config{Level: "error"}))

	first, err := sched.Run()
	require.NoError(t, err)
	require.Equal(t, 2, first.Completed)

	// Re-running the same grid over the same configs directory skips the
	// completed IDs.
	completed := 0
	for _, params := range entries {
		cell := filepath.Join(first.Dir, "configs", params.ConfigID())
		if _, err := os.Stat(filepath.Join(cell, "run_meta.json")); err == nil {
			completed++
		}
	}
	assert.Equal(t, 2, completed)

	second := sched.runConfig(filepath.Join(first.Dir, "configs"), entries[0])
	assert.Equal(t, StatusSkipped, second.Status)
}

func TestGrid_InterruptWritesManifest(t *testing.T) {
	entries := []domain.StrategyParams{
		smaParams(3, 10), smaParams(4, 12), smaParams(5, 15),
	}
	resolved := gridResolved(t, entries)
	cancel := &run.Flag{}
	cancel.Set() // interrupt before dispatch: everything drains immediately

	sched := NewScheduler(resolved, cancel, logger.New(logger.Config{Level: "error"}))
	res, err := sched.Run()
	require.Error(t, err)
	assert.True(t, res.Partial)

	raw, err := os.ReadFile(filepath.Join(res.Dir, ManifestFileName))
	require.NoError(t, err)
	var manifest struct {
		Partial   bool     `json:"partial"`
		Completed []string `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.True(t, manifest.Partial)
}

func TestGrid_EmptyRejected(t *testing.T) {
	resolved := gridResolved(t, nil)
	sched := NewScheduler(resolved, &run.Flag{}, logger.New(logger.Config{Level: "error"}))
	_, err := sched.Run()
	require.Error(t, err)
}

func TestGrid_SeedDerivationPerConfig(t *testing.T) {
	// Two distinct configs must not share a path stream.
	entries := []domain.StrategyParams{smaParams(3, 10), smaParams(4, 12)}
	resolved := gridResolved(t, entries)
	sched := NewScheduler(resolved, &run.Flag{}, logger.New(logger.Config{Level: "error"}))
	res, err := sched.Run()
	require.NoError(t, err)

	var hashes []string
	for _, params := range entries {
		cell := filepath.Join(res.Dir, "configs", params.ConfigID())
		meta, err := loadMeta(cell)
		require.NoError(t, err)
		hashes = append(hashes, meta.PathsHash)
	}
	assert.NotEqual(t, hashes[0], hashes[1])
}
