package run

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/scenario/internal/metrics"
)

// Artifact file names inside a run directory.
const (
	MetricsJSONName = "metrics.json"
	MetricsCSVName  = "metrics.csv"
	IncompleteName  = "incomplete"
)

// MetricsArtifact is the metrics.json payload; metrics.csv carries the same
// schema flattened to one row per leg.
type MetricsArtifact struct {
	Stock  *metrics.Report `json:"stock,omitempty"`
	Option *metrics.Report `json:"option,omitempty"`
}

var csvHeader = []string{
	"leg", "scope", "mean_pnl", "median_pnl", "sharpe", "sortino",
	"max_drawdown", "var", "cvar", "var_method", "bankruptcy_rate",
	"early_exercise_events",
}

// WriteMetrics persists metrics.json and the aligned metrics.csv.
func WriteMetrics(dir string, art *MetricsArtifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	raw, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetricsJSONName), raw, 0o644); err != nil {
		return fmt.Errorf("writing metrics.json: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, MetricsCSVName))
	if err != nil {
		return fmt.Errorf("creating metrics.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	writeLeg := func(leg string, r *metrics.Report) error {
		if r == nil {
			return nil
		}
		if err := w.Write(csvRow(leg, "all", r)); err != nil {
			return err
		}
		if r.ExclBankrupt != nil {
			return w.Write(csvRow(leg, "excl_bankrupt", r.ExclBankrupt))
		}
		return nil
	}
	if err := writeLeg("stock", art.Stock); err != nil {
		return err
	}
	if err := writeLeg("option", art.Option); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func csvRow(leg, scope string, r *metrics.Report) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) }
	return []string{
		leg, scope, f(r.MeanPnL), f(r.MedianPnL), f(r.Sharpe), f(r.Sortino),
		f(r.MaxDrawdown), f(r.VaR), f(r.CVaR), r.VarMethod,
		f(r.BankruptcyRate), strconv.Itoa(r.EarlyExerciseEvents),
	}
}

// MarkIncomplete tags a run directory whose execution aborted; partial
// artifacts stay in place for inspection.
func MarkIncomplete(dir string) {
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(filepath.Join(dir, IncompleteName), []byte("incomplete=true\n"), 0o644)
}
