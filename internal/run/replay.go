package run

import (
	"path/filepath"

	"github.com/aristath/scenario/internal/data"
	"github.com/aristath/scenario/internal/envelope"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/mc"
)

// Replay regenerates a prior run from its metadata: the recorded config and
// seed drive the pipeline again, after the current data is checked against
// the recorded fingerprint. override downgrades fatal drift to warnings.
func (o *Orchestrator) Replay(metaPath string, override bool) (*Result, error) {
	prior, err := envelope.LoadMetadata(metaPath)
	if err != nil {
		return nil, errs.Data().WithDetail("meta", metaPath,
			"prior run metadata must be readable", "check the path").Wrap(err)
	}

	// The replay binds the recorded effective config, not the caller's.
	resolved := prior.Config
	o.Resolved = &resolved
	cfg := &o.Resolved.Config

	// Recompute the fingerprint against the CURRENT data and score drift.
	source, err := data.New(cfg, o.Log)
	if err != nil {
		return nil, err
	}
	bars, err := source.Load(cfg.Symbol, cfg.Interval)
	source.Close()
	if err != nil {
		return nil, err
	}
	current := envelope.Compute(bars)

	reports := map[string]*envelope.DriftReport{}
	recorded, ok := prior.DataFingerprint[current.Key()]
	if !ok {
		return nil, errs.Drift(errs.TagSchemaDrift).WithDetail(
			"data_fingerprint", current.Key(),
			"prior run must have fingerprinted this partition",
			"replay against the originally fingerprinted symbol and interval")
	}
	report := envelope.DetectDrift(recorded, current, cfg.Thresholds, override)
	reports[current.Key()] = report
	if err := report.Err(); err != nil {
		o.Log.Error().
			Str("error_tag", errs.TagOf(err)).
			Str("run_id", prior.RunID).
			Float64("drift_score", report.Score).
			Msg("replay blocked by drift")
		return nil, err
	}

	// A persisted container, when present, is loaded and its hash checked
	// against the record. The paths themselves are always regenerated from
	// the recorded seed below and checked against the same hash.
	priorDir := filepath.Dir(metaPath)
	if prior.PathStorage == string(mc.StorageContainer) {
		containerPath := filepath.Join(priorDir, "paths.mpz")
		if loaded, lerr := mc.LoadContainer(containerPath); lerr == nil {
			if loaded.Hash != prior.PathsHash {
				return nil, errs.Data().WithDetail("paths_hash", loaded.Hash,
					"persisted paths must match the recorded hash",
					"the container was modified; regenerate from the recorded seed")
			}
			loaded.Close()
		}
	}

	res, err := o.compareWith("replay", nil, nil)
	if res != nil && res.Meta != nil {
		res.Meta.DriftReports = reports
		if len(report.Findings) > 0 {
			res.Meta.Warnings = append(res.Meta.Warnings, "drift detected and overridden")
			// Rewrite the envelope with the drift record attached.
			if _, werr := res.Meta.WriteAtomic(res.Dir); werr != nil && err == nil {
				err = werr
			}
		}
	}
	if err != nil {
		return res, err
	}

	// Verify the regenerated paths against the hash recorded at the
	// original run.
	if prior.PathsHash != "" && res.Meta.PathsHash != prior.PathsHash {
		return res, errs.Data().WithDetail("paths_hash", res.Meta.PathsHash,
			"regenerated paths must match the recorded hash",
			"replay on the original architecture or re-record the run")
	}
	return res, nil
}
