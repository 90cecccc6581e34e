package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/storage"
)

// ErrUnjournaledEscrow is returned by Restore when the ledger holds a pool
// for a case id the journal never created.
var ErrUnjournaledEscrow = errors.New("escrow pool has no journaled case")

// Store is the storage a durable ledger runs on.
type Store interface {
	storage.LedgerStore
	storage.JournalStore
}

// Durable is a ledger and journal over SQL storage. A movement and the
// event describing it commit in the same transaction.
type Durable struct {
	store Store
}

// NewDurable creates a durable ledger backed by store.
func NewDurable(store Store) *Durable {
	return &Durable{store: store}
}

// Escrow moves amount from account into the pool of caseID and journals ev.
func (d *Durable) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *domain.Event) error {
	rec, err := encode(ev)
	if err != nil {
		return err
	}
	return d.store.Escrow(ctx, caseID, from, amount, rec)
}

// Payout moves amount from the pool of caseID to account to and journals ev.
func (d *Durable) Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *domain.Event) error {
	rec, err := encode(ev)
	if err != nil {
		return err
	}
	return d.store.Payout(ctx, caseID, to, amount, rec)
}

// Refund moves amount from the pool of caseID back to account to and journals ev.
func (d *Durable) Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *domain.Event) error {
	rec, err := encode(ev)
	if err != nil {
		return err
	}
	return d.store.Refund(ctx, caseID, to, amount, rec)
}

// BalanceFor returns the pool balance of caseID.
func (d *Durable) BalanceFor(ctx context.Context, caseID uint64) (uint64, error) {
	return d.store.BalanceFor(ctx, caseID)
}

// Append journals an event that moves no value.
func (d *Durable) Append(ctx context.Context, ev *domain.Event) error {
	rec, err := encode(ev)
	if err != nil || rec == nil {
		return err
	}
	return d.store.AppendEvent(ctx, rec)
}

// Deposit credits account from outside the system.
func (d *Durable) Deposit(ctx context.Context, account string, amount uint64) error {
	return d.store.Deposit(ctx, account, amount)
}

// AccountBalance returns the balance of account.
func (d *Durable) AccountBalance(ctx context.Context, account string) (uint64, error) {
	return d.store.AccountBalance(ctx, account)
}

// Restore rebuilds the case store from the journal. It returns the store,
// the last applied sequence number and the number of events replayed.
func (d *Durable) Restore(ctx context.Context, rules domain.Rules) (*domain.CaseStore, uint64, int, error) {
	events, err := Load(ctx, d.store)
	if err != nil {
		return nil, 0, 0, err
	}
	cases, last, err := domain.Restore(rules, events)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("replaying event journal: %w", err)
	}

	highest, ok, err := d.store.HighestPoolCase(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading escrow pools: %w", err)
	}
	if ok && highest >= cases.NextID() {
		return nil, 0, 0, fmt.Errorf("%w: pool %d, journal has %d cases", ErrUnjournaledEscrow, highest, cases.NextID())
	}
	return cases, last, len(events), nil
}

// Load reads the whole journal back as domain events.
func Load(ctx context.Context, store storage.JournalStore) ([]domain.Event, error) {
	records, err := store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	events := make([]domain.Event, 0, len(records))
	for _, rec := range records {
		var ev domain.Event
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", rec.Seq, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func encode(ev *domain.Event) (*storage.EventRecord, error) {
	if ev == nil {
		return nil, nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding event %d: %w", ev.Seq, err)
	}
	return &storage.EventRecord{
		Seq:     ev.Seq,
		Kind:    string(ev.Kind),
		CaseID:  ev.CaseID,
		Payload: payload,
	}, nil
}
