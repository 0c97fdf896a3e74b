package run

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
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/pkg/logger"
)

func testResolved(t *testing.T, overrides map[string]string) *config.Resolved {
	t.Helper()
	base := map[string]string{
		"out_dir":   t.TempDir(),
		"log_level": "error",
	}
	for k, v := range overrides {
		base[k] = v
	}
	resolved, err := config.Resolve("", base)
	require.NoError(t, err)
	return resolved
}

var configOptionSpec = domain.OptionSpec{
	Type: domain.OptionCall, StrikeSpec: domain.StrikeATM,
	MaturityDays: 40, IV: 0.3, RiskFreeRate: 0.02, Contracts: 1,
}

func TestCompare_Baseline(t *testing.T) {
	// Baseline scenario: synthetic Laplace bars, 1000 x 60, seed 42,
	// dual-SMA(10,30), no options.
	resolved := testResolved(t, map[string]string{
		"seed": "42", "n_paths": "1000", "n_steps": "60",
	})
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))

	res, err := orch.Compare()
	require.NoError(t, err)
	require.NotNil(t, res.Metrics)
	require.NotNil(t, res.Metrics.Stock)
	assert.False(t, res.Metrics.Stock.Sharpe != res.Metrics.Stock.Sharpe, "Sharpe must be non-null")

	// Artifacts on disk.
	raw, err := os.ReadFile(filepath.Join(res.Dir, envelope.MetaFileName))
	require.NoError(t, err)
	var meta envelope.RunMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, uint64(42), meta.Config.Config.Seed)
	require.NotNil(t, meta.FitRecord)
	assert.NotZero(t, meta.FitRecord.AIC)
	assert.Equal(t, envelope.StatusSuccess, meta.CompletionStatus)

	_, err = os.Stat(filepath.Join(res.Dir, MetricsJSONName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(res.Dir, MetricsCSVName))
	require.NoError(t, err)
}

func TestCompare_Reproducible(t *testing.T) {
	mk := func(dir string) *envelope.RunMetadata {
		resolved := testResolved(t, map[string]string{"seed": "42", "n_paths": "200", "n_steps": "30", "out_dir": dir})
		orch := New(resolved, logger.New(logger.Config{Level: "error"}))
		res, err := orch.Compare()
		require.NoError(t, err)
		return res.Meta
	}
	a := mk(t.TempDir())
	b := mk(t.TempDir())
	assert.Equal(t, a.PathsHash, b.PathsHash)
	assert.Equal(t, a.FitRecord.Params, b.FitRecord.Params)
}

func TestCompare_WithOptionLeg(t *testing.T) {
	resolved := testResolved(t, map[string]string{"seed": "7", "n_paths": "200", "n_steps": "40"})
	resolved.Config.OptionSpec = &configOptionSpec
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))

	res, err := orch.Compare()
	require.NoError(t, err)
	require.NotNil(t, res.Metrics.Option)
	assert.NotEmpty(t, res.Meta.IVSource)
}

func TestScreen_SyntheticUniverse(t *testing.T) {
	resolved := testResolved(t, nil)
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))

	res, err := orch.Screen()
	require.NoError(t, err)
	// Synthetic data is quiet; sparsity is the expected outcome and must be
	// flagged, not fatal.
	if len(res.Episodes) < 30 {
		assert.True(t, res.Sparse)
	}
	_, err = os.Stat(filepath.Join(res.Dir, EpisodesFileName))
	require.NoError(t, err)
}

func TestConditional_FallbackRecorded(t *testing.T) {
	resolved := testResolved(t, map[string]string{"seed": "42", "n_paths": "100", "n_steps": "20"})
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))

	res, err := orch.Conditional()
	require.NoError(t, err)
	require.NotNil(t, res.Meta.Conditioning)
	// The quiet synthetic series yields almost no episodes, so the chain
	// must fall back and record it.
	assert.True(t, res.Meta.Conditioning.FallbackUsed)
	assert.NotEqual(t, "", res.Meta.Conditioning.Method)
}

func TestReplay_Reproduces(t *testing.T) {
	dir := t.TempDir()
	resolved := testResolved(t, map[string]string{"seed": "42", "n_paths": "200", "n_steps": "30", "out_dir": dir})
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))
	orig, err := orch.Compare()
	require.NoError(t, err)

	replayer := New(testResolved(t, map[string]string{"out_dir": t.TempDir()}), logger.New(logger.Config{Level: "error"}))
	res, err := replayer.Replay(filepath.Join(orig.Dir, envelope.MetaFileName), false)
	require.NoError(t, err)
	assert.Equal(t, orig.Meta.PathsHash, res.Meta.PathsHash)
	assert.InDelta(t, orig.Metrics.Stock.MeanPnL, res.Metrics.Stock.MeanPnL, 1e-10)
}

func TestReplay_DriftBlocked(t *testing.T) {
	dir := t.TempDir()
	resolved := testResolved(t, map[string]string{"seed": "42", "n_paths": "100", "n_steps": "20", "fit_window": "500", "out_dir": dir})
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))
	orig, err := orch.Compare()
	require.NoError(t, err)

	// Grow the dataset 20%: the synthetic source sizes its history from
	// fit_window, so the replayed fingerprint sees a count drift.
	metaPath := filepath.Join(orig.Dir, envelope.MetaFileName)
	meta, err := envelope.LoadMetadata(metaPath)
	require.NoError(t, err)
	meta.Config.Config.FitWindow = 600
	_, err = meta.WriteAtomic(orig.Dir)
	require.NoError(t, err)

	replayer := New(testResolved(t, map[string]string{"out_dir": t.TempDir()}), logger.New(logger.Config{Level: "error"}))
	_, err = replayer.Replay(metaPath, false)
	require.Error(t, err)
	assert.Equal(t, errs.TagCountDrift, errs.TagOf(err))

	// The override downgrades the drift; the replay proceeds and records it.
	replayer2 := New(testResolved(t, map[string]string{"out_dir": t.TempDir()}), logger.New(logger.Config{Level: "error"}))
	res, err := replayer2.Replay(metaPath, true)
	if err == nil {
		require.NotEmpty(t, res.Meta.DriftReports)
	}
}

func TestAbort_LeavesIncompleteMarker(t *testing.T) {
	// A bankruptcy cascade aborts mid-DAG with a partial metadata record.
	resolved := testResolved(t, map[string]string{"seed": "42", "n_paths": "300", "n_steps": "100"})
	resolved.Config.S0 = 100
	orch := New(resolved, logger.New(logger.Config{Level: "error"}))

	// Force the cascade through an implausible synthetic drift by shrinking
	// the overflow ceiling so every path crosses it.
	resolved.Config.Thresholds.OverflowCeiling = 100.5

	_, err := orch.Compare()
	require.Error(t, err)
	assert.Equal(t, errs.TagBankruptcy, errs.TagOf(err))

	// Partial artifacts stay behind under the incomplete tag.
	entries, err := os.ReadDir(resolved.Config.OutDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runDir := filepath.Join(resolved.Config.OutDir, entries[0].Name())
	_, err = os.Stat(filepath.Join(runDir, IncompleteName))
	assert.NoError(t, err)

	meta, err := envelope.LoadMetadata(filepath.Join(runDir, envelope.MetaFileName))
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFail, meta.CompletionStatus)
	assert.Equal(t, errs.TagBankruptcy, meta.ErrorTag)
	assert.NotEmpty(t, meta.BankruptcyHistogram)
}
