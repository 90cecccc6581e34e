package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{sqlStore: &sqlStore{db: db, logger: logger, rebind: rebindDollar}}, nil
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Account balances
	CREATE TABLE IF NOT EXISTS accounts (
		account TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Per-case escrow pools
	CREATE TABLE IF NOT EXISTS escrow_pools (
		case_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Ledger entries
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		case_id BIGINT,
		account TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Case event journal
	CREATE TABLE IF NOT EXISTS case_events (
		id UUID PRIMARY KEY,
		seq BIGINT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		case_id BIGINT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		account TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_case ON ledger_entries(case_id);
	CREATE INDEX IF NOT EXISTS idx_case_events_case ON case_events(case_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
