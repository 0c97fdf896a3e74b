// Package strategy implements the signal-generation contract: strategies
// turn price paths and state features into per-step position directives.
// Strategies are discoverable by (name, kind) through a registry populated at
// init and frozen thereafter.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/mc"
)

// Signals holds the per-step position matrices. Values are -1/0/+1 for plain
// variants or signed position sizes for sized variants. Shape is
// (n_paths x n_steps): the signal at step t drives the transition t -> t+1.
type Signals struct {
	Stock  [][]int8 `json:"-"`
	Option [][]int8 `json:"-"`

	FeaturesUsed []string           `json:"features_used"`
	OptionSpec   *domain.OptionSpec `json:"option_spec,omitempty"`

	// EarlyExercise flags per path/step; when set the option position
	// realizes intrinsic value at that step and flattens.
	EarlyExercise map[int]int `json:"-"` // path -> step
}

// Validate enforces the signal contract against the paths that produced it.
func (s *Signals) Validate(nPaths, nSteps int, kind string) error {
	rows := s.Stock
	if kind == domain.KindOption {
		rows = s.Option
		if s.OptionSpec == nil {
			return errs.Config().WithDetail("option_spec", nil,
				"option signals require an option_spec",
				"add option_spec to the run configuration")
		}
	}
	if len(rows) != nPaths {
		return errs.Data().WithDetail("signals", len(rows),
			fmt.Sprintf("signal rows must equal n_paths (%d)", nPaths),
			"regenerate signals from the current paths")
	}
	for i, row := range rows {
		if len(row) != nSteps {
			return errs.Data().WithDetail("signals", len(row),
				fmt.Sprintf("signal row %d must have n_steps (%d) entries", i, nSteps),
				"regenerate signals from the current paths")
		}
	}
	return nil
}

// Strategy is the signal-generation contract.
type Strategy interface {
	Name() string
	Kind() string
	// RequiredFeatures must be present in the feature map; missing ones
	// abort. OptionalFeatures warn and proceed with defaults.
	RequiredFeatures() []string
	OptionalFeatures() []string
	GenerateSignals(paths *mc.PricePaths, feats map[string]float64, params domain.StrategyParams, spec *domain.OptionSpec) (*Signals, error)
}

// key is the registry key.
type key struct{ name, kind string }

var (
	registryMu sync.RWMutex
	registry   = map[key]func() Strategy{}
)

// Register adds a strategy factory under (name, kind).
func Register(name, kind string, f func() Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key{name, kind}] = f
}

// New instantiates a registered strategy.
func New(name, kind string) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[key{name, kind}]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.Config().WithDetail("strategy", name+"/"+kind,
			"strategy must name a registered (name, kind) pair",
			"use one of "+namesList())
	}
	return f(), nil
}

func namesList() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k.name+"/"+k.kind)
	}
	sort.Strings(names)
	s := ""
	for i, n := range names {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s
}

// checkFeatures validates the feature map against the strategy's
// declarations and returns the feature names actually consumed.
func checkFeatures(s Strategy, feats map[string]float64) ([]string, error) {
	var used []string
	for _, f := range s.RequiredFeatures() {
		if _, ok := feats[f]; !ok {
			return nil, errs.MissingFeature(f)
		}
		used = append(used, f)
	}
	for _, f := range s.OptionalFeatures() {
		if _, ok := feats[f]; ok {
			used = append(used, f)
		} else {
			log.Warn().Str("strategy", s.Name()).Str("feature", f).
				Msg("optional feature missing; proceeding with default")
		}
	}
	return used, nil
}
