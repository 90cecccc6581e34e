package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/lostpaws/internal/config"
)

// LedgerStore holds account balances and per-case escrow pools.
// Every movement runs in a single transaction and leaves a ledger entry.
// A non-nil ev is appended to the journal in that same transaction.
type LedgerStore interface {
	Deposit(ctx context.Context, account string, amount uint64) error
	AccountBalance(ctx context.Context, account string) (uint64, error)
	Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *EventRecord) error
	Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *EventRecord) error
	Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *EventRecord) error
	BalanceFor(ctx context.Context, caseID uint64) (uint64, error)
	// HighestPoolCase returns the largest case id that has ever held escrow.
	HighestPoolCase(ctx context.Context) (id uint64, ok bool, err error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
}

// JournalStore persists case events in sequence order.
type JournalStore interface {
	AppendEvent(ctx context.Context, ev *EventRecord) error
	ListEvents(ctx context.Context) ([]EventRecord, error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name, account string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	LedgerStore
	JournalStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Ledger entry kinds
const (
	EntryDeposit = "deposit"
	EntryEscrow  = "escrow"
	EntryPayout  = "payout"
	EntryRefund  = "refund"
)

// LedgerEntry is one recorded movement of value
type LedgerEntry struct {
	ID        string
	CaseID    *uint64 // nil for deposits
	Account   string
	Kind      string
	Amount    uint64
	CreatedAt string
}

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Account string
	CaseID  *uint64
	Limit   int
}

// EventRecord is a journaled case event. Payload holds the JSON encoding
// of the full event.
type EventRecord struct {
	ID        string
	Seq       uint64
	Kind      string
	CaseID    uint64
	Payload   []byte
	CreatedAt string
}

// APIKey represents an API key bound to a ledger account
type APIKey struct {
	ID         string
	Name       string
	Account    string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
