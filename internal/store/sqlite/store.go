// Package sqlite persists bars and divergences in a single-writer SQLite
// database. It is the concrete implementation of the model.BarStore and
// model.DivergenceStore ports.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"altregime/internal/model"
)

// Store wraps one SQLite connection configured for the engine's
// single-logical-writer model.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database at dbPath with WAL mode
// and the engine schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Per-key serialization happens above the store; one connection is
	// enough and sidesteps SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			metric    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL, -- unix ms close time
			o         REAL    NOT NULL,
			h         REAL    NOT NULL,
			l         REAL    NOT NULL,
			c         REAL    NOT NULL,
			v         REAL,
			PRIMARY KEY (metric, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS divs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			metric        TEXT NOT NULL,
			timeframe     TEXT NOT NULL,
			indicator     TEXT NOT NULL,
			side          TEXT NOT NULL,
			text          TEXT NOT NULL,
			implication   TEXT NOT NULL,
			pivot_l_ts    INTEGER,
			pivot_l_val   REAL,
			pivot_r_ts    INTEGER,
			pivot_r_val   REAL,
			detected_ts   INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'active',
			confirm_ts    INTEGER,
			confirm_grade TEXT CHECK(confirm_grade IN ('soft','hard')),
			invalid_ts    INTEGER,
			score         REAL NOT NULL DEFAULT 0.0,
			uniq          TEXT UNIQUE
		);

		CREATE INDEX IF NOT EXISTS idx_divs_key
			ON divs (metric, timeframe, status);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// storageErr tags a failed store operation with the storage-unavailable
// sentinel so callers can classify without string matching.
func storageErr(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, model.ErrStorageUnavailable, err)
}
