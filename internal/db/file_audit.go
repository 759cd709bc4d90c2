package db

import (
	"context"
	"fmt"
	"time"
)

// FileAction is one entry of the telemetry file audit trail.
type FileAction struct {
	Name   string    `json:"name"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Audit actions.
const (
	ActionDelete = "delete"
	ActionPrune  = "prune"
)

// RecordFileAction appends an entry to the audit trail.
func (db *DB) RecordFileAction(ctx context.Context, a FileAction) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO file_audit (name, action, detail, at_unix_ms) VALUES (?, ?, ?, ?)`,
		a.Name, a.Action, a.Detail, a.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", a.Action, a.Name, err)
	}
	return nil
}

// FileActions returns the most recent audit entries, newest first.
func (db *DB) FileActions(ctx context.Context, limit int) ([]FileAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name, action, detail, at_unix_ms FROM file_audit ORDER BY at_unix_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query file audit: %w", err)
	}
	defer rows.Close()

	var out []FileAction
	for rows.Next() {
		var a FileAction
		var at int64
		if err := rows.Scan(&a.Name, &a.Action, &a.Detail, &at); err != nil {
			return nil, err
		}
		a.At = time.UnixMilli(at).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
