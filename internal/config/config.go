// Package config provides configuration management: the RunConfig schema,
// built-in defaults, and layered resolution with fixed precedence
// (command-line overrides > environment > file > built-in defaults).
// The resolved config and the precedence source of every field are recorded
// in run metadata.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// EnvPrefix names the environment variables the resolver consults, e.g.
// SCENARIO_SEED, SCENARIO_N_PATHS, SCENARIO_MAX_WORKERS.
const EnvPrefix = "SCENARIO_"

// Precedence sources, recorded per field.
const (
	SourceCLI     = "cli"
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceDefault = "default"
)

// ResourceLimits bound a run against machine ceilings. MaxWorkers and
// MemThresholdMB are overridable through the environment.
type ResourceLimits struct {
	MaxWorkers     int  `json:"max_workers" yaml:"max_workers" default:"6" validate:"gte=0"`
	MemThresholdMB int  `json:"mem_threshold_mb" yaml:"mem_threshold_mb" default:"0" validate:"gte=0"` // 0 = use detected RAM
	Persistent     bool `json:"persistent" yaml:"persistent"`                                          // allow spill to compressed container
}

// SelectorConfig parametrizes candidate selection.
type SelectorConfig struct {
	Name        string  `json:"name" yaml:"name" default:"gap_volume"`
	GapMin      float64 `json:"gap_min" yaml:"gap_min" default:"0.03"`
	VolumeZMin  float64 `json:"volume_z_min" yaml:"volume_z_min" default:"1.5"`
	Horizon     int     `json:"horizon" yaml:"horizon" default:"10" validate:"gte=1"`
	TopN        int     `json:"top_n" yaml:"top_n" default:"0"` // 0 = no clip
	MinEpisodes int     `json:"min_episodes" yaml:"min_episodes" default:"30"`
}

// RunConfig is the full configuration bound by the orchestrator.
type RunConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol" default:"SYN" validate:"required"`
	Interval string `json:"interval" yaml:"interval" default:"1d"`

	S0     float64 `json:"s0" yaml:"s0" default:"100.0" validate:"gt=0"`
	NPaths int     `json:"n_paths" yaml:"n_paths" default:"1000" validate:"gte=1"`
	NSteps int     `json:"n_steps" yaml:"n_steps" default:"60" validate:"gte=1"`
	Seed   uint64  `json:"seed" yaml:"seed" default:"42"`

	Distribution      string `json:"distribution" yaml:"distribution" default:"laplace"`
	AllowTransform    bool   `json:"allow_transform" yaml:"allow_transform"`
	FallbackToDefault bool   `json:"fallback_to_default" yaml:"fallback_to_default"`

	DataSource string `json:"data_source" yaml:"data_source" default:"synthetic"` // synthetic | sqlite
	DataPath   string `json:"data_path" yaml:"data_path"`
	FitWindow  int    `json:"fit_window" yaml:"fit_window" default:"500" validate:"gte=2"`

	Strategy       domain.StrategyParams   `json:"strategy" yaml:"strategy"`
	OptionStrategy *domain.StrategyParams  `json:"option_strategy,omitempty" yaml:"option_strategy"`
	OptionSpec     *domain.OptionSpec      `json:"option_spec,omitempty" yaml:"option_spec"`
	Grid           []domain.StrategyParams `json:"grid,omitempty" yaml:"grid"`

	Selector *SelectorConfig `json:"selector,omitempty" yaml:"selector"`

	Resources ResourceLimits `json:"resource_limits" yaml:"resource_limits"`

	VarMethod string `json:"var_method" yaml:"var_method" default:"historical"` // historical | parametric

	OutDir   string `json:"out_dir" yaml:"out_dir" default:"runs"`
	LogLevel string `json:"log_level" yaml:"log_level" default:"info"`

	Thresholds Thresholds       `json:"thresholds" yaml:"thresholds"`
	Objective  ObjectiveWeights `json:"objective_weights" yaml:"objective_weights"`
}

// FieldSource records which precedence layer supplied one field.
type FieldSource struct {
	Field  string `json:"field"`
	Source string `json:"source"`
}

// Resolved couples the effective config with its provenance.
type Resolved struct {
	Config  RunConfig     `json:"config"`
	Sources []FieldSource `json:"sources"`
}

var validate = validator.New()

// knownModels gates the distribution name early so a typo fails at config
// time, not at fit time.
var knownModels = map[string]bool{
	"laplace": true, "student_t": true, "normal": true, "garch_t": true,
}

// Resolve builds the effective RunConfig from the precedence chain. filePath
// may be empty (defaults + env + CLI only). cliOverrides maps flat field
// names (e.g. "seed", "n_paths") to their string values; only flags the user
// actually set should be present.
func Resolve(filePath string, cliOverrides map[string]string) (*Resolved, error) {
	// .env is loaded first so the environment layer sees it.
	_ = godotenv.Load()

	cfg := RunConfig{}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errs.Config().Wrap(fmt.Errorf("applying defaults: %w", err))
	}

	sources := map[string]string{}
	for _, f := range fieldNames {
		sources[f] = SourceDefault
	}

	if filePath != "" {
		raw, err := os.ReadFile(filePath)
		if err != nil {
			return nil, errs.Config().WithDetail("config", filePath,
				"config file must be readable", "check the path").Wrap(err)
		}
		// Track which top-level keys the file actually set.
		var present map[string]interface{}
		if err := yaml.Unmarshal(raw, &present); err != nil {
			return nil, errs.Config().WithDetail("config", filePath,
				"config file must be valid YAML", "fix the syntax error").Wrap(err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errs.Config().WithDetail("config", filePath,
				"config file must match the RunConfig schema", "fix the offending field").Wrap(err)
		}
		for key := range present {
			sources[key] = SourceFile
		}
	}

	if err := applyEnv(&cfg, sources); err != nil {
		return nil, err
	}
	if err := applyOverrides(&cfg, cliOverrides, SourceCLI, sources); err != nil {
		return nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	resolved := &Resolved{Config: cfg}
	for _, f := range fieldNames {
		resolved.Sources = append(resolved.Sources, FieldSource{Field: f, Source: sources[f]})
	}
	return resolved, nil
}

// fieldNames are the flat fields that participate in provenance tracking and
// env/CLI overrides. Nested structures (strategy, grid, thresholds) are
// file-only.
var fieldNames = []string{
	"symbol", "interval", "s0", "n_paths", "n_steps", "seed",
	"distribution", "allow_transform", "fallback_to_default",
	"data_source", "data_path", "fit_window", "var_method",
	"out_dir", "log_level", "max_workers", "mem_threshold_mb", "persistent",
}

func applyEnv(cfg *RunConfig, sources map[string]string) error {
	env := map[string]string{}
	for _, f := range fieldNames {
		key := EnvPrefix + strings.ToUpper(f)
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env[f] = v
		}
	}
	return applyOverrides(cfg, env, SourceEnv, sources)
}

func applyOverrides(cfg *RunConfig, values map[string]string, source string, sources map[string]string) error {
	for field, raw := range values {
		if err := setField(cfg, field, raw); err != nil {
			return err
		}
		sources[field] = source
	}
	return nil
}

func setField(cfg *RunConfig, field, raw string) error {
	invalid := func(constraint string) error {
		return errs.Config().WithDetail(field, raw, constraint,
			"fix the override value")
	}
	switch field {
	case "symbol":
		cfg.Symbol = raw
	case "interval":
		cfg.Interval = raw
	case "s0":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return invalid("s0 must be a float")
		}
		cfg.S0 = v
	case "n_paths":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("n_paths must be an integer")
		}
		cfg.NPaths = v
	case "n_steps":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("n_steps must be an integer")
		}
		cfg.NSteps = v
	case "seed":
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return invalid("seed must be a non-negative integer")
		}
		cfg.Seed = v
	case "distribution":
		cfg.Distribution = raw
	case "allow_transform":
		cfg.AllowTransform = raw == "true" || raw == "1"
	case "fallback_to_default":
		cfg.FallbackToDefault = raw == "true" || raw == "1"
	case "data_source":
		cfg.DataSource = raw
	case "data_path":
		cfg.DataPath = raw
	case "fit_window":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("fit_window must be an integer")
		}
		cfg.FitWindow = v
	case "var_method":
		cfg.VarMethod = raw
	case "out_dir":
		cfg.OutDir = raw
	case "log_level":
		cfg.LogLevel = raw
	case "max_workers":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("max_workers must be an integer")
		}
		cfg.Resources.MaxWorkers = v
	case "mem_threshold_mb":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("mem_threshold_mb must be an integer")
		}
		cfg.Resources.MemThresholdMB = v
	case "persistent":
		cfg.Resources.Persistent = raw == "true" || raw == "1"
	default:
		return errs.Config().WithDetail(field, raw,
			"unknown override field", "see the documented field list")
	}
	return nil
}

func validateConfig(cfg *RunConfig) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			v := verrs[0]
			return errs.Config().WithDetail(strings.ToLower(v.StructField()), v.Value(),
				fmt.Sprintf("must satisfy %s=%s", v.Tag(), v.Param()),
				"adjust the field to satisfy the constraint")
		}
		return errs.Config().Wrap(err)
	}
	if !knownModels[cfg.Distribution] {
		return errs.Config().WithDetail("distribution", cfg.Distribution,
			"distribution must be one of laplace, student_t, normal, garch_t",
			"pick a registered distribution model")
	}
	if cfg.VarMethod != "historical" && cfg.VarMethod != "parametric" {
		return errs.Config().WithDetail("var_method", cfg.VarMethod,
			"var_method must be historical or parametric", "pick a supported method")
	}
	if cfg.DataSource == "sqlite" && cfg.DataPath == "" {
		return errs.Config().WithDetail("data_path", "",
			"data_path is required when data_source=sqlite",
			"point data_path at the historical bars database")
	}
	if cfg.OptionSpec != nil {
		if err := cfg.OptionSpec.Validate(); err != nil {
			return err
		}
	}
	if cfg.Strategy.Name == "" {
		cfg.Strategy = domain.StrategyParams{
			Name: "dual_sma", Kind: domain.KindStock,
			Params: map[string]float64{"short_window": 10, "long_window": 30},
		}
	}
	return nil
}
