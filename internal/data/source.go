// Package data binds the historical-data collaborators: the sqlite-backed
// bars store and the deterministic synthetic source used for baselines and
// tests. Providers requiring authentication live outside the engine and feed
// the sqlite store.
package data

import (
	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/database"
	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// Source loads historical bars for one (symbol, interval).
type Source interface {
	Provider() string
	Load(symbol, interval string) (*domain.Bars, error)
	// Universe lists the symbols a screen can walk.
	Universe(interval string) ([]string, error)
	Close() error
}

// New builds the configured source.
func New(cfg *config.RunConfig, log zerolog.Logger) (Source, error) {
	switch cfg.DataSource {
	case "synthetic", "":
		return NewSynthetic(cfg.Seed, cfg.FitWindow), nil
	case "sqlite":
		db, err := database.Open(cfg.DataPath)
		if err != nil {
			return nil, errs.Data().WithDetail("data_path", cfg.DataPath,
				"bars database must be openable", "check the path and permissions").Wrap(err)
		}
		store := database.NewBarsStore(db, log)
		if err := store.CheckSchema(); err != nil {
			db.Close()
			return nil, err
		}
		return &sqliteSource{db: db, store: store}, nil
	default:
		return nil, errs.Config().WithDetail("data_source", cfg.DataSource,
			"data_source must be synthetic or sqlite", "pick a supported source")
	}
}

type sqliteSource struct {
	db    *database.DB
	store *database.BarsStore
}

func (s *sqliteSource) Provider() string { return "sqlite" }

func (s *sqliteSource) Load(symbol, interval string) (*domain.Bars, error) {
	return s.store.Load(symbol, interval)
}

func (s *sqliteSource) Universe(interval string) ([]string, error) {
	return s.store.Symbols(interval)
}

func (s *sqliteSource) Close() error { return s.db.Close() }
