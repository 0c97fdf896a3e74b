package data

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenario/internal/config"
	"github.com/aristath/scenario/internal/database"
)

func TestSynthetic_Deterministic(t *testing.T) {
	a, err := NewSynthetic(42, 500).Load("SYN", "1d")
	require.NoError(t, err)
	b, err := NewSynthetic(42, 500).Load("SYN", "1d")
	require.NoError(t, err)
	assert.Equal(t, a.Bars, b.Bars)

	c, err := NewSynthetic(43, 500).Load("SYN", "1d")
	require.NoError(t, err)
	assert.NotEqual(t, a.Bars[10].Close, c.Bars[10].Close)
}

func TestSynthetic_SymbolPartition(t *testing.T) {
	a, _ := NewSynthetic(42, 100).Load("AAA", "1d")
	b, _ := NewSynthetic(42, 100).Load("BBB", "1d")
	assert.NotEqual(t, a.Bars[50].Close, b.Bars[50].Close)
}

func TestSqliteSource_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := database.Open(path)
	require.NoError(t, err)
	store := database.NewBarsStore(db, zerolog.Nop())

	bars, err := NewSynthetic(42, 120).Load("ACME", "1d")
	require.NoError(t, err)
	require.NoError(t, store.Save(bars))
	db.Close()

	cfg := &config.RunConfig{DataSource: "sqlite", DataPath: path}
	src, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	loaded, err := src.Load("ACME", "1d")
	require.NoError(t, err)
	require.Len(t, loaded.Bars, 120)
	assert.InDelta(t, bars.Bars[60].Close, loaded.Bars[60].Close, 1e-12)
	assert.True(t, bars.Bars[60].Timestamp.Equal(loaded.Bars[60].Timestamp))

	universe, err := src.Universe("1d")
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME"}, universe)
}

func TestSqliteSource_MissingPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := database.Open(path)
	require.NoError(t, err)
	db.Close()

	cfg := &config.RunConfig{DataSource: "sqlite", DataPath: path}
	src, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Load("NOPE", "1d")
	require.Error(t, err)
}

func TestNew_UnknownSource(t *testing.T) {
	_, err := New(&config.RunConfig{DataSource: "csv"}, zerolog.Nop())
	require.Error(t, err)
}
