package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Strategy kinds.
const (
	KindStock  = "stock"
	KindOption = "option"
)

// StrategyParams names a strategy and carries its numeric parameters.
type StrategyParams struct {
	Name   string             `json:"name" yaml:"name"`
	Kind   string             `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params" yaml:"params"`
}

// ConfigID returns a deterministic content hash of the parameter set.
// Keys are sorted so the ID is independent of map iteration order; the grid
// scheduler uses it to identify completed configs across resumes.
func (p StrategyParams) ConfigID() string {
	keys := make([]string, 0, len(p.Params))
	for k := range p.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteByte('|')
	sb.WriteString(p.Kind)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%.12g", k, p.Params[k])
	}
	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:8])
}

// Get returns a parameter with a default.
func (p StrategyParams) Get(key string, fallback float64) float64 {
	if v, ok := p.Params[key]; ok {
		return v
	}
	return fallback
}
