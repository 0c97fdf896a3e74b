package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/scenario/internal/domain"
	"github.com/aristath/scenario/internal/errs"
)

// barColumns is the declared column set; any divergence in a loaded partition
// is a schema mismatch.
var barColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// BarsStore reads and writes OHLCV partitions.
type BarsStore struct {
	db  *DB
	log zerolog.Logger
}

// NewBarsStore creates a bars store accessor.
func NewBarsStore(db *DB, log zerolog.Logger) *BarsStore {
	return &BarsStore{
		db:  db,
		log: log.With().Str("component", "bars_store").Logger(),
	}
}

func (s *BarsStore) conn() *sql.DB { return s.db.Conn() }

func (db *DB) ensureSchema() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT    NOT NULL,
			interval  TEXT    NOT NULL,
			timestamp INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (symbol, interval, timestamp)
		);
		CREATE INDEX IF NOT EXISTS idx_bars_symbol_interval
			ON bars (symbol, interval, timestamp);
	`
	if _, err := db.conn.Exec(ddl); err != nil {
		return fmt.Errorf("creating bars schema: %w", err)
	}
	return nil
}

// CheckSchema verifies the bars table carries every declared OHLCV column in
// its declared type. The partition key columns (symbol, interval) are not
// checked. Drift here is a DataError before any compute.
func (s *BarsStore) CheckSchema() error {
	rows, err := s.conn().Query(`PRAGMA table_info(bars)`)
	if err != nil {
		return fmt.Errorf("reading bars schema: %w", err)
	}
	defer rows.Close()

	declared := map[string]string{
		"timestamp": "INTEGER", "open": "REAL", "high": "REAL",
		"low": "REAL", "close": "REAL", "volume": "REAL",
	}
	found := map[string]string{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("scanning bars schema row: %w", err)
		}
		found[name] = strings.ToUpper(ctype)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, col := range barColumns {
		if ctype, ok := found[col]; !ok || ctype != declared[col] {
			return errs.Data().WithDetail("schema", col,
				"bars table must carry the declared OHLCV columns and types",
				"migrate the data store to the current schema version")
		}
	}
	return nil
}

// Load reads one (symbol, interval) partition ordered by timestamp and
// validates the bar invariants.
func (s *BarsStore) Load(symbol, interval string) (*domain.Bars, error) {
	rows, err := s.conn().Query(`
		SELECT timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND interval = ?
		ORDER BY timestamp ASC
	`, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s/%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	bars := &domain.Bars{Symbol: symbol, Interval: interval}
	for rows.Next() {
		var ts int64
		var b domain.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		b.Timestamp = time.Unix(0, ts).UTC()
		bars.Bars = append(bars.Bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars.Bars) == 0 {
		return nil, errs.Data().WithDetail("symbol", symbol+"/"+interval,
			"partition must contain bars", "fetch the symbol into the data store first")
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	if len(bars.GapFlags) > 0 {
		s.log.Warn().
			Str("symbol", symbol).
			Int("gaps", len(bars.GapFlags)).
			Msg("bars contain gaps beyond tolerance")
	}
	return bars, nil
}

// Save writes a partition inside one transaction, replacing existing rows.
func (s *BarsStore) Save(bars *domain.Bars) error {
	tx, err := s.conn().Begin()
	if err != nil {
		return fmt.Errorf("starting bars transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing bars insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars.Bars {
		if _, err := stmt.Exec(bars.Symbol, bars.Interval, b.Timestamp.UnixNano(),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("inserting bar: %w", err)
		}
	}
	return tx.Commit()
}

// Symbols lists the distinct symbols stored for an interval, the universe a
// screen walks.
func (s *BarsStore) Symbols(interval string) ([]string, error) {
	rows, err := s.conn().Query(`
		SELECT DISTINCT symbol FROM bars WHERE interval = ? ORDER BY symbol
	`, interval)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
