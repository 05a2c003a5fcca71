// Package dispatch turns rule matches into persisted, delivered alerts.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Delivery status values for an alert event. PARTIAL means at least one
// notification channel accepted the alert while another refused it.
const (
	StatusPending   = "PENDING"
	StatusDelivered = "DELIVERED"
	StatusPartial   = "PARTIAL"
	StatusFailed    = "FAILED"
)

// AlertEvent is one fired alert. Terminal once persisted and
// delivered or failed.
type AlertEvent struct {
	ID             string
	RuleID         string
	Instrument     string
	TriggeredValue float64
	TickTsMillis   int64
	DedupKey       string
	DeliveryStatus string
	CreatedMillis  int64
}

// Store persists alert events with idempotent, dedup-keyed writes.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the alert event store.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: serializes dedup-key writes at the driver,
	// avoiding SQLITE_BUSY under concurrent dispatch.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			dedup_key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			triggered_value REAL NOT NULL,
			tick_ts_unix_millis INTEGER NOT NULL,
			delivery_status TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_rule
			ON alert_events(rule_id, created_unix_millis)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// InsertIfAbsent persists the event unless one with the same dedup key
// already exists. Concurrent attempts for one key converge to a single
// stored record; the stored event is returned either way.
func (s *Store) InsertIfAbsent(ctx context.Context, event AlertEvent) (AlertEvent, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alert_events
			(dedup_key, id, rule_id, instrument, triggered_value, tick_ts_unix_millis, delivery_status, created_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.DedupKey, event.ID, event.RuleID, event.Instrument,
		event.TriggeredValue, event.TickTsMillis, event.DeliveryStatus, event.CreatedMillis,
	)
	if err != nil {
		return AlertEvent{}, false, fmt.Errorf("failed to insert alert event: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return AlertEvent{}, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := s.getByDedupKey(ctx, event.DedupKey)
	if err != nil {
		return AlertEvent{}, false, err
	}
	return stored, inserted == 1, nil
}

func (s *Store) getByDedupKey(ctx context.Context, key string) (AlertEvent, error) {
	var e AlertEvent
	err := s.db.QueryRowContext(ctx,
		`SELECT dedup_key, id, rule_id, instrument, triggered_value, tick_ts_unix_millis, delivery_status, created_unix_millis
		 FROM alert_events WHERE dedup_key = ?`,
		key,
	).Scan(&e.DedupKey, &e.ID, &e.RuleID, &e.Instrument,
		&e.TriggeredValue, &e.TickTsMillis, &e.DeliveryStatus, &e.CreatedMillis)
	if err != nil {
		return AlertEvent{}, fmt.Errorf("failed to read alert event: %w", err)
	}
	return e, nil
}

// UpdateDeliveryStatus records the delivery outcome for an event.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, dedupKey, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE alert_events SET delivery_status = ? WHERE dedup_key = ?",
		status, dedupKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dedup_key, id, rule_id, instrument, triggered_value, tick_ts_unix_millis, delivery_status, created_unix_millis
		 FROM alert_events
		 ORDER BY created_unix_millis DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []AlertEvent
	for rows.Next() {
		var e AlertEvent
		err := rows.Scan(&e.DedupKey, &e.ID, &e.RuleID, &e.Instrument,
			&e.TriggeredValue, &e.TickTsMillis, &e.DeliveryStatus, &e.CreatedMillis)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
