package mc

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/dist"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/rng"
)

// Conditional methods, in fallback order.
const (
	MethodBootstrap       = "bootstrap"
	MethodParametricRefit = "parametric_refit"
	MethodUnconditional   = "unconditional"
)

// ConditionalSelection is the outcome of conditional-distribution selection:
// the model to sample from plus the bookkeeping the run metadata captures.
type ConditionalSelection struct {
	Model dist.Model `json:"-"`

	Method         string          `json:"method"`
	Matches        int             `json:"matches"`
	EpisodeCount   int             `json:"episode_count"`
	FallbackUsed   bool            `json:"fallback_used"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	RefitRecord    *dist.FitRecord `json:"refit_record,omitempty"`
}

// EpisodeBootstrap samples returns with replacement from the matched episode
// windows. It satisfies dist.Model for the generator's sake; Fit is the pool
// construction and is done by the selector below.
type EpisodeBootstrap struct {
	pool []float64
}

func (b *EpisodeBootstrap) Name() string { return MethodBootstrap }

func (b *EpisodeBootstrap) Params() map[string]float64 {
	return map[string]float64{"pool_size": float64(len(b.pool))}
}

// Fit is a no-op: the pool is assembled from matched episodes, not estimated.
func (b *EpisodeBootstrap) Fit(returns []float64, seed uint64, opts dist.FitOptions) (*dist.FitRecord, error) {
	return &dist.FitRecord{Model: MethodBootstrap, FitWindow: len(b.pool), Seed: seed, Status: dist.StatusSuccess, Converged: true}, nil
}

func (b *EpisodeBootstrap) SamplePath(seed uint64, pathIndex int, out []float64) {
	r := rng.New(rng.DeriveIndexed(seed, "bootstrap", pathIndex))
	n := len(b.pool)
	for i := range out {
		out[i] = b.pool[r.IntN(n)]
	}
}

// MatchEpisodes standardizes the selector's state features over the episode
// population and retains episodes within the z-space Euclidean distance
// threshold of the target state.
func MatchEpisodes(episodes []domain.CandidateEpisode, target map[string]float64, threshold float64) []domain.CandidateEpisode {
	if len(episodes) == 0 || len(target) == 0 {
		return nil
	}

	// Population moments per feature.
	type moments struct{ mean, std float64 }
	stats := map[string]moments{}
	for f := range target {
		vals := make([]float64, 0, len(episodes))
		for _, ep := range episodes {
			if v, ok := ep.StateFeatures[f]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(vals, nil)
		stats[f] = moments{mean: mean, std: std}
	}

	var matched []domain.CandidateEpisode
	for _, ep := range episodes {
		var sq float64
		usable := true
		for f, tv := range target {
			m, ok := stats[f]
			if !ok || m.std == 0 {
				continue
			}
			ev, ok := ep.StateFeatures[f]
			if !ok {
				usable = false
				break
			}
			d := (ev-m.mean)/m.std - (tv-m.mean)/m.std
			sq += d * d
		}
		if usable && math.Sqrt(sq) <= threshold {
			matched = append(matched, ep)
		}
	}
	return matched
}

// episodeWindows pools the return windows of the given episodes.
func episodeWindows(episodes []domain.CandidateEpisode, historicalReturns []float64) []float64 {
	var pool []float64
	for _, ep := range episodes {
		start := ep.Index
		end := ep.Index + ep.Horizon
		if start < 0 {
			start = 0
		}
		if end > len(historicalReturns) {
			end = len(historicalReturns)
		}
		if start < end {
			pool = append(pool, historicalReturns[start:end]...)
		}
	}
	return pool
}

// SelectConditional picks the conditional sampling method with the fallback
// chain bootstrap -> parametric refit -> unconditional. The method used, the
// match count, and any fallback reason are recorded on the selection.
func SelectConditional(
	episodes []domain.CandidateEpisode,
	historicalReturns []float64,
	target map[string]float64,
	base dist.Model,
	seed uint64,
	th config.Thresholds,
	log zerolog.Logger,
) *ConditionalSelection {
	log = log.With().Str("component", "mc.conditional").Logger()

	matched := MatchEpisodes(episodes, target, th.DistanceThreshold)
	sel := &ConditionalSelection{
		EpisodeCount: len(episodes),
		Matches:      len(matched),
	}

	if len(matched) >= th.MinMatch {
		pool := episodeWindows(matched, historicalReturns)
		if len(pool) > 0 {
			sel.Model = &EpisodeBootstrap{pool: pool}
			sel.Method = MethodBootstrap
			log.Info().Int("matches", len(matched)).Int("pool", len(pool)).
				Msg("conditional MC using episode bootstrap")
			return sel
		}
		sel.FallbackReason = "matched episodes have empty return windows"
	} else {
		sel.FallbackReason = "matches below min_match"
	}

	// Parametric refit on the union of matched (or all) episode windows.
	refitSource := matched
	if len(refitSource) == 0 {
		refitSource = episodes
	}
	pool := episodeWindows(refitSource, historicalReturns)
	if len(pool) >= th.MinSamples {
		refit, err := dist.New(base.Name())
		if err == nil {
			rec, ferr := refit.Fit(pool, seed, dist.FitOptions{Thresholds: th, AllowTransform: true})
			if ferr == nil {
				sel.Model = refit
				sel.Method = MethodParametricRefit
				sel.FallbackUsed = true
				sel.RefitRecord = rec
				log.Warn().Str("reason", sel.FallbackReason).Int("pool", len(pool)).
					Msg("conditional MC falling back to parametric refit")
				return sel
			}
			sel.FallbackReason = sel.FallbackReason + "; refit failed: " + ferr.Error()
		}
	}

	sel.Model = base
	sel.Method = MethodUnconditional
	sel.FallbackUsed = true
	log.Warn().Str("reason", sel.FallbackReason).
		Msg("conditional MC falling back to unconditional sampling")
	return sel
}
