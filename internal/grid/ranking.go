package grid

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/metrics"
	"github.com/aristath/scenario/internal/run"
)

// rankConfigs z-scores each metric across the COMPLETED configs, forms the
// composite objective, and orders best first. Ties break on config_id
// lexicographic order so the ranking is deterministic.
func rankConfigs(out *Result, cfg *config.RunConfig) {
	var completed []ConfigResult
	var reports []*metrics.Report
	for _, r := range out.Results {
		if (r.Status == StatusSuccess || r.Status == StatusSkipped) && r.Report != nil {
			completed = append(completed, r)
			reports = append(reports, r.Report)
		}
	}

	scores := metrics.ObjectiveScores(reports, cfg.Objective, cfg.Thresholds.Epsilon)
	for i := range completed {
		completed[i].Score = scores[i]
	}

	sort.SliceStable(completed, func(i, j int) bool {
		if completed[i].Score != completed[j].Score {
			return completed[i].Score > completed[j].Score
		}
		return completed[i].ConfigID < completed[j].ConfigID
	})
	out.Ranking = completed

	// Fold the scores back into the flat result set.
	byID := map[string]float64{}
	for _, c := range completed {
		byID[c.ConfigID] = c.Score
	}
	for i := range out.Results {
		out.Results[i].Score = byID[out.Results[i].ConfigID]
	}
}

// RankingFileName is the top-level grid artifact.
const RankingFileName = "ranking.json"

// ManifestFileName records completed config IDs for an interrupted grid.
const ManifestFileName = "manifest.json"

func writeRanking(dir string, out *Result) error {
	raw, err := json.MarshalIndent(out.Ranking, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ranking: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, RankingFileName), raw, 0o644)
}

func writeManifest(dir string, out *Result) error {
	var completed []string
	for _, r := range out.Results {
		if r.Status == StatusSuccess || r.Status == StatusSkipped {
			completed = append(completed, r.ConfigID)
		}
	}
	sort.Strings(completed)
	payload := struct {
		Partial   bool     `json:"partial"`
		Completed []string `json:"completed"`
	}{Partial: true, Completed: completed}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFileName), raw, 0o644)
}

func loadMetricsArtifact(dir string) (*run.MetricsArtifact, error) {
	raw, err := os.ReadFile(filepath.Join(dir, run.MetricsJSONName))
	if err != nil {
		return nil, err
	}
	var art run.MetricsArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, err
	}
	return &art, nil
}
