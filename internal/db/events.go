package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/incubator.report/internal/events"
)

// RecordEvent stores e and returns its ID. Events without an ID get a new
// UUID; an event whose ID is already stored is ignored, so replayed pushes
// are harmless.
func (db *DB) RecordEvent(ctx context.Context, e events.Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	values := e.Values
	if values == nil {
		values = []float64{}
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode event values: %w", err)
	}
	var channel sql.NullInt64
	if e.Channel != nil {
		channel = sql.NullInt64{Int64: int64(*e.Channel), Valid: true}
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, ts_unix_ms, channel, kind, type_name, values_json, text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), channel, string(e.Kind), e.TypeName, string(valuesJSON), e.Text,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record event %s: %w", e.ID, err)
	}
	return e.ID, nil
}

// FetchEvents returns stored events with start <= timestamp < end, oldest
// first. A zero start or end leaves that side open. When channel is set,
// events for that shelf and instrument-wide events (no channel) are
// returned.
func (db *DB) FetchEvents(ctx context.Context, start, end time.Time, channel *int) ([]events.Event, error) {
	var (
		where []string
		args  []any
	)
	if !start.IsZero() {
		where = append(where, "ts_unix_ms >= ?")
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		where = append(where, "ts_unix_ms < ?")
		args = append(args, end.UnixMilli())
	}
	if channel != nil {
		where = append(where, "(channel IS NULL OR channel = ?)")
		args = append(args, *channel)
	}
	q := `SELECT id, ts_unix_ms, channel, kind, type_name, values_json, text FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_unix_ms, id"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e          events.Event
			ts         int64
			ch         sql.NullInt64
			kind       string
			valuesJSON string
		)
		if err := rows.Scan(&e.ID, &ts, &ch, &kind, &e.TypeName, &valuesJSON, &e.Text); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Kind = events.Kind(kind)
		if ch.Valid {
			c := int(ch.Int64)
			e.Channel = &c
		}
		if err := json.Unmarshal([]byte(valuesJSON), &e.Values); err != nil {
			return nil, fmt.Errorf("failed to decode values of event %s: %w", e.ID, err)
		}
		if len(e.Values) == 0 {
			e.Values = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEventsBefore removes events older than t and returns how many were
// removed.
func (db *DB) DeleteEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE ts_unix_ms < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}
