package envelope

import (
	"fmt"
	"math"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
)

// Drift classes.
const (
	DriftSchema       = "schema"
	DriftCount        = "count"
	DriftDistribution = "distribution"
)

// DriftFinding is one detected divergence between the recorded and the
// current dataset.
type DriftFinding struct {
	Class      string  `json:"class"`
	Tag        string  `json:"tag"`
	Detail     string  `json:"detail"`
	ChangeFrac float64 `json:"change_frac"`
	Fatal      bool    `json:"fatal"`
}

// DriftReport scores every finding for one partition.
type DriftReport struct {
	Key        string         `json:"key"`
	Findings   []DriftFinding `json:"findings,omitempty"`
	Score      float64        `json:"score"`
	Overridden bool           `json:"overridden"` // fatal findings downgraded to warnings
}

// HasFatal reports whether any finding would block replay.
func (r *DriftReport) HasFatal() bool {
	if r.Overridden {
		return false
	}
	for _, f := range r.Findings {
		if f.Fatal {
			return true
		}
	}
	return false
}

// Err returns the taxonomy error for the most severe finding, or nil.
func (r *DriftReport) Err() error {
	if !r.HasFatal() {
		return nil
	}
	// Schema outranks count outranks distribution.
	order := []string{DriftSchema, DriftCount, DriftDistribution}
	for _, class := range order {
		for _, f := range r.Findings {
			if f.Fatal && f.Class == class {
				return errs.Drift(f.Tag).WithDetail(
					"data_fingerprint", f.Detail,
					"replay requires a matching dataset",
					"re-fetch the original data version or pass the drift override flag")
			}
		}
	}
	return nil
}

// DetectDrift compares the recorded fingerprint against the current one.
// Schema drift is always fatal; count drift above count_drift_frac is fatal;
// a return mean or std change above dist_drift_frac is fatal. override
// downgrades all of them to warnings (recorded, not blocking).
func DetectDrift(recorded, current Fingerprint, th config.Thresholds, override bool) *DriftReport {
	report := &DriftReport{Key: recorded.Key(), Overridden: override}

	if recorded.SchemaHash != current.SchemaHash {
		report.Findings = append(report.Findings, DriftFinding{
			Class:      DriftSchema,
			Tag:        errs.TagSchemaDrift,
			Detail:     fmt.Sprintf("schema %q -> %q", recorded.Schema, current.Schema),
			ChangeFrac: 1,
			Fatal:      true,
		})
	}

	if recorded.RowCount != current.RowCount {
		frac := math.Abs(float64(current.RowCount-recorded.RowCount)) / math.Max(float64(recorded.RowCount), 1)
		report.Findings = append(report.Findings, DriftFinding{
			Class:      DriftCount,
			Tag:        errs.TagCountDrift,
			Detail:     fmt.Sprintf("row_count %d -> %d", recorded.RowCount, current.RowCount),
			ChangeFrac: frac,
			Fatal:      frac > th.CountDriftFrac,
		})
	}

	meanFrac := relChange(recorded.ReturnMean, current.ReturnMean)
	stdFrac := relChange(recorded.ReturnStd, current.ReturnStd)
	if meanFrac > 0 || stdFrac > 0 {
		frac := math.Max(meanFrac, stdFrac)
		report.Findings = append(report.Findings, DriftFinding{
			Class: DriftDistribution,
			Tag:   errs.TagDistributionDrift,
			Detail: fmt.Sprintf("return mean %.6g -> %.6g, std %.6g -> %.6g",
				recorded.ReturnMean, current.ReturnMean, recorded.ReturnStd, current.ReturnStd),
			ChangeFrac: frac,
			Fatal:      frac > th.DistDriftFrac,
		})
	}

	for _, f := range report.Findings {
		report.Score += f.ChangeFrac
	}
	return report
}

func relChange(old, cur float64) float64 {
	if old == cur {
		return 0
	}
	denom := math.Abs(old)
	if denom < 1e-12 {
		denom = 1e-12
	}
	return math.Abs(cur-old) / denom
}
