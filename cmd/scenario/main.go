// Package main is the entry point for the scenario engine CLI. It exposes
// exactly five commands — compare, grid, screen, conditional, replay — each
// binding a configuration file, named overrides and a seed, and maps the
// error taxonomy onto the documented exit codes.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/errs"
	"github.com/aristath/scenario/internal/grid"
	"github.com/aristath/scenario/internal/run"
	"github.com/aristath/scenario/pkg/logger"
)

const usage = `scenario - CPU-only quantitative scenario engine

Usage:
  scenario <command> [flags]

Commands:
  compare      stock vs option baseline over Monte Carlo paths
  grid         fan compare out over a strategy-parameter grid
  screen       filter the symbol universe into candidate episodes
  conditional  compare with episode-conditioned sampling
  replay       regenerate a prior run from its metadata

Run 'scenario <command> -h' for command flags.
`

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return errs.ExitConfig
	}
	command := args[0]

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML run configuration")
	metaPath := fs.String("meta", "", "prior run_meta.json (replay only)")
	override := fs.Bool("override-drift", false, "downgrade fatal drift to warnings (replay only)")

	// Named overrides; only flags the user sets participate in precedence.
	named := map[string]*string{}
	for _, f := range []string{
		"symbol", "interval", "s0", "n_paths", "n_steps", "seed",
		"distribution", "data_source", "data_path", "fit_window",
		"var_method", "out_dir", "log_level", "max_workers",
		"mem_threshold_mb", "persistent", "allow_transform", "fallback_to_default",
	} {
		named[f] = fs.String(f, "", "override config field "+f)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return errs.ExitConfig
	}

	overrides := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		if _, ok := named[f.Name]; ok {
			overrides[f.Name] = f.Value.String()
		}
	})

	resolved, err := config.Resolve(*configPath, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errs.ExitCodeOf(err)
	}

	log := logger.New(logger.Config{Level: resolved.Config.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)

	orch := run.New(resolved, log)

	// Graceful shutdown: flip the cooperative flag, let in-flight kernels
	// complete, persist partial artifacts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown signal received, draining")
		orch.Cancel.Set()
	}()

	switch command {
	case "compare":
		res, err := orch.Compare()
		return report(log, err, func() {
			log.Info().Str("run_id", res.RunID).Str("dir", res.Dir).Msg("compare done")
		})
	case "grid":
		sched := grid.NewScheduler(resolved, orch.Cancel, log)
		res, err := sched.Run()
		if res != nil {
			log.Info().
				Int("completed", res.Completed).
				Int("failed", res.Failed).
				Str("dir", res.Dir).
				Msg("grid done")
		}
		return report(log, err, nil)
	case "screen":
		res, err := orch.Screen()
		return report(log, err, func() {
			log.Info().Int("episodes", len(res.Episodes)).Str("dir", res.Dir).Msg("screen done")
		})
	case "conditional":
		res, err := orch.Conditional()
		return report(log, err, func() {
			log.Info().Str("run_id", res.RunID).Str("dir", res.Dir).Msg("conditional done")
		})
	case "replay":
		if *metaPath == "" {
			fmt.Fprintln(os.Stderr, "replay requires -meta <path to run_meta.json>")
			return errs.ExitConfig
		}
		res, err := orch.Replay(*metaPath, *override)
		return report(log, err, func() {
			log.Info().Str("run_id", res.RunID).Str("dir", res.Dir).Msg("replay done")
		})
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return errs.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return errs.ExitConfig
	}
}

// report prints the failure and maps the error taxonomy to the exit code.
func report(log zerolog.Logger, err error, onSuccess func()) int {
	if err != nil {
		log.Error().Str("error_tag", errs.TagOf(err)).Msg(err.Error())
		return errs.ExitCodeOf(err)
	}
	if onSuccess != nil {
		onSuccess()
	}
	return errs.ExitOK
}
