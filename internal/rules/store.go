package rules

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the rule-store collaborator consumed by the cache. Rule CRUD
// lives outside this engine; only the active read path is needed here.
type Store interface {
	// ActiveRules returns the full active rule set.
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// Notifier is optionally implemented by stores that can signal rule
// changes. A receive on Changes triggers an out-of-band cache refresh.
type Notifier interface {
	Changes() <-chan struct{}
}

// SQLiteStore reads rules from the engine's SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the rule store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables.
func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			kind TEXT NOT NULL,
			comparator TEXT NOT NULL,
			value REAL NOT NULL,
			indicator TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			version INTEGER NOT NULL DEFAULT 1,
			updated_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_active_instrument
			ON rules(instrument)
			WHERE active = 1`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// ActiveRules returns every rule with active = 1.
func (s *SQLiteStore) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instrument, kind, comparator, value, indicator, version, updated_unix_millis
		 FROM rules
		 WHERE active = 1
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var updatedMillis int64
		err := rows.Scan(
			&r.ID, &r.Instrument, (*string)(&r.Kind),
			(*string)(&r.Condition.Comparator), &r.Condition.Value, &r.Condition.Indicator,
			&r.Version, &updatedMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Active = true
		r.UpdatedAt = time.UnixMilli(updatedMillis)
		out = append(out, r)
	}

	return out, rows.Err()
}

// UpsertRule writes a rule row. The engine itself only reads rules; this
// exists for seeding and tests.
func (s *SQLiteStore) UpsertRule(ctx context.Context, r Rule) error {
	active := 0
	if r.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, instrument, kind, comparator, value, indicator, active, version, updated_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			instrument = excluded.instrument,
			kind = excluded.kind,
			comparator = excluded.comparator,
			value = excluded.value,
			indicator = excluded.indicator,
			active = excluded.active,
			version = excluded.version,
			updated_unix_millis = excluded.updated_unix_millis`,
		r.ID, r.Instrument, string(r.Kind), string(r.Condition.Comparator),
		r.Condition.Value, r.Condition.Indicator, active, r.Version,
		r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
