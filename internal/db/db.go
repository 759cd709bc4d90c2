// Package db is the sqlite event store: discrete instrument events pushed
// or fetched from the hardware layer, plus an audit trail of telemetry file
// deletions.
package db

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/incubator.report/internal/monitoring"
)

// pragmas are applied to every connection the service opens.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if necessary) the database at path and migrates it
// to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database and applies connection pragmas without touching
// the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One writer keeps WAL checkpoints and busy handling predictable.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Stats summarises the store for the debug console.
type Stats struct {
	Events      int64   `json:"events"`
	OldestMs    *int64  `json:"oldestUnixMs,omitempty"`
	NewestMs    *int64  `json:"newestUnixMs,omitempty"`
	FileActions int64   `json:"fileActions"`
	SizeMB      float64 `json:"sizeMB"`
}

func (db *DB) Stats() (Stats, error) {
	var s Stats
	var oldest, newest sql.NullInt64
	err := db.QueryRow(`SELECT COUNT(*), MIN(ts_unix_ms), MAX(ts_unix_ms) FROM events`).Scan(&s.Events, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count events: %w", err)
	}
	if oldest.Valid {
		s.OldestMs = &oldest.Int64
	}
	if newest.Valid {
		s.NewestMs = &newest.Int64
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM file_audit`).Scan(&s.FileActions); err != nil {
		return Stats{}, fmt.Errorf("failed to count file actions: %w", err)
	}
	if info, err := os.Stat(db.path); err == nil {
		s.SizeMB = float64(info.Size()) / (1 << 20)
	} else {
		monitoring.Logf("db: stat %s: %v", db.path, err)
	}
	return s, nil
}
