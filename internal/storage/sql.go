package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// sqlStore carries the queries shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger
	rebind func(string) string
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Deposit credits an account from outside the system
func (s *sqlStore) Deposit(ctx context.Context, account string, amount uint64) error {
	amt, err := positive(amount)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.creditAccount(ctx, tx, account, amt); err != nil {
			return err
		}
		return s.insertEntry(ctx, tx, nil, account, EntryDeposit, amt)
	})
}

// AccountBalance returns the balance of an account; unknown accounts hold zero
func (s *sqlStore) AccountBalance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT balance FROM accounts WHERE account = ?"), account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// Escrow moves amount from an account into the pool of a case
func (s *sqlStore) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *EventRecord) error {
	amt, err := positive(amount)
	if err != nil {
		return err
	}
	id, err := toDB(caseID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.debitAccount(ctx, tx, from, amt); err != nil {
			return err
		}
		if err := s.creditPool(ctx, tx, id, amt); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, tx, &id, from, EntryEscrow, amt); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, ev)
	})
}

// Payout moves amount from the pool of a case to the finder
func (s *sqlStore) Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *EventRecord) error {
	return s.release(ctx, caseID, to, amount, EntryPayout, ev)
}

// Refund moves amount from the pool of a case back to the owner
func (s *sqlStore) Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *EventRecord) error {
	return s.release(ctx, caseID, to, amount, EntryRefund, ev)
}

func (s *sqlStore) release(ctx context.Context, caseID uint64, to string, amount uint64, kind string, ev *EventRecord) error {
	amt, err := positive(amount)
	if err != nil {
		return err
	}
	id, err := toDB(caseID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.debitPool(ctx, tx, id, amt); err != nil {
			return err
		}
		if err := s.creditAccount(ctx, tx, to, amt); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, tx, &id, to, kind, amt); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, ev)
	})
}

// BalanceFor returns the escrow pool balance of a case
func (s *sqlStore) BalanceFor(ctx context.Context, caseID uint64) (uint64, error) {
	id, err := toDB(caseID)
	if err != nil {
		return 0, err
	}
	var balance int64
	err = s.db.QueryRowContext(ctx, s.rebind("SELECT balance FROM escrow_pools WHERE case_id = ?"), id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// ListEntries returns ledger entries in the order they were written
func (s *sqlStore) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Account != "" {
		where = append(where, "account = ?")
		args = append(args, filter.Account)
	}
	if filter.CaseID != nil {
		id, err := toDB(*filter.CaseID)
		if err != nil {
			return nil, err
		}
		where = append(where, "case_id = ?")
		args = append(args, id)
	}

	query := "SELECT id, case_id, account, kind, amount, created_at FROM ledger_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var (
			e      LedgerEntry
			caseID sql.NullInt64
			amount int64
		)
		if err := rows.Scan(&e.ID, &caseID, &e.Account, &e.Kind, &amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		if caseID.Valid {
			id := uint64(caseID.Int64)
			e.CaseID = &id
		}
		e.Amount = uint64(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqlStore) creditAccount(ctx context.Context, tx *sql.Tx, account string, amt int64) error {
	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO accounts (account, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE
		SET balance = accounts.balance + excluded.balance, updated_at = excluded.updated_at
		WHERE accounts.balance <= ? - excluded.balance`),
		account, amt, now(), int64(math.MaxInt64))
	if err != nil {
		return fmt.Errorf("crediting account: %w", err)
	}
	return expectRow(res, ErrBalanceOverflow)
}

func (s *sqlStore) debitAccount(ctx context.Context, tx *sql.Tx, account string, amt int64) error {
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE accounts SET balance = balance - ?, updated_at = ?
		WHERE account = ? AND balance >= ?`),
		amt, now(), account, amt)
	if err != nil {
		return fmt.Errorf("debiting account: %w", err)
	}
	return expectRow(res, ErrInsufficientFunds)
}

func (s *sqlStore) creditPool(ctx context.Context, tx *sql.Tx, caseID, amt int64) error {
	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO escrow_pools (case_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE
		SET balance = escrow_pools.balance + excluded.balance, updated_at = excluded.updated_at
		WHERE escrow_pools.balance <= ? - excluded.balance`),
		caseID, amt, now(), int64(math.MaxInt64))
	if err != nil {
		return fmt.Errorf("crediting escrow pool: %w", err)
	}
	return expectRow(res, ErrBalanceOverflow)
}

func (s *sqlStore) debitPool(ctx context.Context, tx *sql.Tx, caseID, amt int64) error {
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE escrow_pools SET balance = balance - ?, updated_at = ?
		WHERE case_id = ? AND balance >= ?`),
		amt, now(), caseID, amt)
	if err != nil {
		return fmt.Errorf("debiting escrow pool: %w", err)
	}
	return expectRow(res, ErrInsufficientFunds)
}

func (s *sqlStore) insertEntry(ctx context.Context, tx *sql.Tx, caseID *int64, account, kind string, amt int64) error {
	var cid sql.NullInt64
	if caseID != nil {
		cid = sql.NullInt64{Int64: *caseID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO ledger_entries (id, case_id, account, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		generateID(), cid, account, kind, amt, now())
	if err != nil {
		return fmt.Errorf("recording ledger entry: %w", err)
	}
	return nil
}

// HighestPoolCase returns the largest case id with an escrow pool
func (s *sqlStore) HighestPoolCase(ctx context.Context) (uint64, bool, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(case_id) FROM escrow_pools").Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return uint64(id.Int64), true, nil
}

// AppendEvent writes an event to the journal
func (s *sqlStore) AppendEvent(ctx context.Context, ev *EventRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertEvent(ctx, tx, ev)
	})
}

func (s *sqlStore) insertEvent(ctx context.Context, tx *sql.Tx, ev *EventRecord) error {
	if ev == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = generateID()
	}
	if ev.CreatedAt == "" {
		ev.CreatedAt = now()
	}
	seq, err := toDB(ev.Seq)
	if err != nil {
		return err
	}
	caseID, err := toDB(ev.CaseID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO case_events (id, seq, kind, case_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ev.ID, seq, ev.Kind, caseID, string(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending event %d: %w", ev.Seq, err)
	}
	return nil
}

// ListEvents returns the whole journal in sequence order
func (s *sqlStore) ListEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, seq, kind, case_id, payload, created_at FROM case_events ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var (
			ev      EventRecord
			seq     int64
			caseID  int64
			payload string
		)
		if err := rows.Scan(&ev.ID, &seq, &ev.Kind, &caseID, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Seq = uint64(seq)
		ev.CaseID = uint64(caseID)
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateAPIKey creates a new API key acting as account
func (s *sqlStore) CreateAPIKey(ctx context.Context, name, account string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO api_keys (id, key_hash, name, account, created_at) VALUES (?, ?, ?, ?, ?)"),
		id, hash, name, account, now())
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *sqlStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT id, key_hash, name, account, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL"), hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.Account, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, s.rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?"), now(), ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *sqlStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, account, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.Account, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *sqlStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL"), now(), id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrNotFound)
}

func positive(amount uint64) (int64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}
	return toDB(amount)
}

// expectRow returns errNone when res affected no rows.
func expectRow(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}
