package domain

import (
	"time"

	"github.com/aristath/scenario/internal/errs"
)

// CandidateEpisode is a (symbol, t0, horizon) triple with the state features
// evaluated at t0. Episodes condition Monte Carlo sampling; they are owned by
// the run that created them and passed by value to conditional sub-runs.
type CandidateEpisode struct {
	Symbol        string             `json:"symbol"`
	T0            time.Time          `json:"t0"`
	Index         int                `json:"index"` // position of t0 within the historical bars
	Horizon       int                `json:"horizon"`
	StateFeatures map[string]float64 `json:"state_features"`
	SelectorName  string             `json:"selector_name"`
	Score         float64            `json:"score"`
}

// Validate enforces the episode invariants against the bars it was built from.
func (e *CandidateEpisode) Validate(barCount int, required []string) error {
	if e.Horizon <= 0 {
		return errs.Data().WithDetail("horizon", e.Horizon,
			"horizon must be positive", "check the selector configuration")
	}
	if e.Index < 0 || e.Index >= barCount {
		return errs.Data().WithDetail("t0", e.Index,
			"t0 must lie within the historical index", "rebuild episodes from current data")
	}
	for _, f := range required {
		if _, ok := e.StateFeatures[f]; !ok {
			return errs.MissingFeature(f)
		}
	}
	return nil
}
