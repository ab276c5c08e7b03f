/*
Package sqlite provides a SQLite-backed implementation of the engine's
collaborators.

PURPOSE:
  Persists buckets, goals, splits with their allocation sets, and the ledger
  of transactions against every target. Implements:

  engine.TargetReader:         Buckets and goals a split can allocate to
  engine.DistributionExecutor: Atomic distribution of a stored split

KEY TABLES:
  buckets, goals:     Targets with their running current_amount
  splits:             Split headers (soft-deleted via is_active)
  split_allocations:  Allocation rows, replaced as a set on every save
  transactions:       Ledger of inbound/outbound entries with balance_after
  distributions:      One row per successful ExecuteSplit

DISTRIBUTION:
  ExecuteSplit runs inside one database transaction while holding the
  store's write lock:
  1. Load the split and its rows from the database
  2. Validate them again with engine.ValidateSplit
  3. Post the plan through ledger.Sequencer (assigns balance_after)
  4. Insert transactions, update current_amount, record the distribution
  Any failure rolls everything back.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so writes
  to a target are serialized and balance_after stays consistent.

USAGE:
  store, err := sqlite.New("./data/split.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orchestrator := engine.NewOrchestrator(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - engine/collaborators.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements the engine collaborators using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and the
	// executor relies on writes being serialized.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buckets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		current_amount TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		current_amount TEXT NOT NULL DEFAULT '0',
		target_amount TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS splits (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		base_amount TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Exactly one of amount / percentage, matching allocation_type
	CREATE TABLE IF NOT EXISTS split_allocations (
		id TEXT PRIMARY KEY,
		split_id TEXT NOT NULL REFERENCES splits(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		target_type TEXT NOT NULL CHECK (target_type IN ('bucket', 'goal')),
		target_id TEXT NOT NULL,
		allocation_type TEXT NOT NULL CHECK (allocation_type IN ('fixed', 'percentage')),
		amount TEXT,
		percentage TEXT,
		created_at TEXT NOT NULL,
		CHECK ((allocation_type = 'fixed' AND amount IS NOT NULL AND percentage IS NULL)
		    OR (allocation_type = 'percentage' AND percentage IS NOT NULL AND amount IS NULL)),
		UNIQUE (split_id, target_type, target_id)
	);

	CREATE INDEX IF NOT EXISTS idx_split_allocations_split
		ON split_allocations(split_id, position);

	-- Ledger; seq orders transactions per target
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		target_type TEXT NOT NULL CHECK (target_type IN ('bucket', 'goal')),
		target_id TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('inbound', 'outbound')),
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		description TEXT NOT NULL,
		split_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_target
		ON transactions(target_type, target_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_split
		ON transactions(split_id) WHERE split_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS distributions (
		id TEXT PRIMARY KEY,
		split_id TEXT NOT NULL,
		total TEXT NOT NULL,
		entries INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_distributions_split
		ON distributions(split_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"distributions", "transactions", "split_allocations", "splits", "goals", "buckets"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) timestamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
