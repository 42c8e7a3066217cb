// Package eventlog provides the SQLite-backed append-only event log.
//
// The log is the single source of truth: a globally ordered sequence of
// validated, immutable events. One store instance is the single writer for
// its database file and assigns positions; any number of readers tail it.
//
// Critical patterns:
//
//   - All ordering uses the position column (logical clock), never
//     timestamps. Replay is deterministic regardless of wall time.
//   - Event IDs are content-addressed over (nonce, type, payload).
//     Redelivering a commit with its nonce collapses to exactly-once
//     application; distinct commits with identical payloads stay distinct.
//   - Payloads are schema-validated before the INSERT; once a row exists it
//     is permanent.
package eventlog

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/noteflowhq/noteflow/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events.type
const currentSchemaVersion = 1

// Store is the durable event log. Safe for concurrent use; SQLite is
// limited to a single connection to keep one writer at a time.
type Store struct {
	db        *sql.DB
	validator *schema.Validator
	notifier  *notifier
}

// Open creates or opens the log database at path (":memory:" for tests).
// Applies pragmas and migrations; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect event log: %w", err)
	}

	// Single writer avoids SQLITE_BUSY; the position counter depends on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compile event schema: %w", err)
	}

	return &Store{
		db:        db,
		validator: validator,
		notifier:  newNotifier(),
	}, nil
}

// Close closes the database connection and wakes any tailing subscriptions.
func (s *Store) Close() error {
	if s.notifier != nil {
		s.notifier.close()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the type index for databases created before v1.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
