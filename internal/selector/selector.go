// Package selector filters historical bars into candidate episodes for
// conditional simulation. Selectors are registered by name; rules may only
// reference information available at or before the bar they score.
package selector

import (
	"sort"
	"sync"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// Selector turns a bar history into scored candidate episodes.
type Selector interface {
	Name() string
	// FeatureRequirements are the feature keys every emitted episode's
	// state_features must cover.
	FeatureRequirements() []string
	// MinLookback is the number of bars needed before the first scoreable row.
	MinLookback() int
	Select(bars *domain.Bars) ([]domain.CandidateEpisode, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func(cfg config.SelectorConfig) Selector{}
)

// Register adds a selector factory under a name.
func Register(name string, f func(cfg config.SelectorConfig) Selector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New instantiates a registered selector from its config.
func New(cfg config.SelectorConfig) (Selector, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.Config().WithDetail("selector", cfg.Name,
			"selector must name a registered rule set", "use 'gap_volume'")
	}
	return f(cfg), nil
}

// SortAndClip orders episodes by score descending (config ID order is not
// meaningful here; ties break on T0 for determinism) and clips to topN when
// positive.
func SortAndClip(episodes []domain.CandidateEpisode, topN int) []domain.CandidateEpisode {
	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].Score != episodes[j].Score {
			return episodes[i].Score > episodes[j].Score
		}
		return episodes[i].T0.Before(episodes[j].T0)
	})
	if topN > 0 && len(episodes) > topN {
		episodes = episodes[:topN]
	}
	return episodes
}
