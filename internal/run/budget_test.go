package run

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/metrics"
)

func budgetThresholds() config.Thresholds {
	return config.Thresholds{BudgetInfoMult: 1.5, BudgetWarnMult: 2.0, BudgetErrorMult: 3.0}
}

func TestBudget_WithinLimit(t *testing.T) {
	b := NewBudget(time.Hour, budgetThresholds(), zerolog.Nop())
	assert.NoError(t, b.Check("fit"))
}

func TestBudget_ErrorTierFatal(t *testing.T) {
	b := NewBudget(time.Nanosecond, budgetThresholds(), zerolog.Nop())
	time.Sleep(time.Millisecond)
	err := b.Check("fit")
	require.Error(t, err)
	assert.Equal(t, errs.KindResource, errs.KindOf(err))
}

func TestFlag_SingleWriterManyReaders(t *testing.T) {
	f := &Flag{}
	assert.False(t, f.IsSet())
	f.Set()
	assert.True(t, f.IsSet())
	f.Set() // idempotent
	assert.True(t, f.IsSet())
}

func TestWriteMetrics_AlignedSchemas(t *testing.T) {
	dir := t.TempDir()
	art := &MetricsArtifact{
		Stock: &metrics.Report{
			MeanPnL: 1.5, MedianPnL: 1.2, Sharpe: 0.8, VarMethod: "historical",
			ExclBankrupt: &metrics.Report{MeanPnL: 2.0, VarMethod: "historical"},
		},
		Option: &metrics.Report{MeanPnL: -0.5, VarMethod: "historical"},
	}
	require.NoError(t, WriteMetrics(dir, art))

	// Three CSV data rows: stock/all, stock/excl_bankrupt, option/all.
	f, err := os.Open(filepath.Join(dir, MetricsCSVName))
	require.NoError(t, err)
	defer f.Close()
	raw, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.Equal(t, csvHeader, raw[0])
	assert.Equal(t, "stock", raw[1][0])
	assert.Equal(t, "excl_bankrupt", raw[2][1])
	assert.Equal(t, "option", raw[3][0])
}
