package ledger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/storage"
)

var (
	_ domain.Ledger  = (*Durable)(nil)
	_ domain.Journal = (*Durable)(nil)
)

var errDiskFull = errors.New("disk full")

// flakyStore fails selected writes before they reach the database.
type flakyStore struct {
	Store
	failAppend error
	failEscrow error
}

func (f *flakyStore) AppendEvent(ctx context.Context, rec *storage.EventRecord) error {
	if f.failAppend != nil {
		return f.failAppend
	}
	return f.Store.AppendEvent(ctx, rec)
}

func (f *flakyStore) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, rec *storage.EventRecord) error {
	if f.failEscrow != nil {
		return f.failEscrow
	}
	return f.Store.Escrow(ctx, caseID, from, amount, rec)
}

func newSQLite(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestDurable_RoundTripRestoresCases(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	require.NoError(t, store.Deposit(ctx, "owner", 10_000_000))

	led := NewDurable(store)
	rules := domain.DefaultRules()
	cases := domain.NewCaseStore(rules)
	svc := domain.NewService(cases, led, domain.WithJournal(led))

	id, err := svc.CreateCase(ctx, "owner", "siamese cat, blue eyes", 2_000_000)
	require.NoError(t, err)
	require.NoError(t, svc.IncreaseBounty(ctx, "owner", id, 1_000_000))
	require.NoError(t, svc.SubmitFinder(ctx, "finder", id, "sleeping on my porch"))

	events, err := Load(ctx, store)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventFinderSubmitted, events[2].Kind)

	restored, last, n, err := NewDurable(store).Restore(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
	assert.Equal(t, 3, n)

	want, _ := cases.Get(id)
	got, err := restored.Get(id)
	require.NoError(t, err)
	assert.Equal(t, want.Bounty, got.Bounty)
	assert.Equal(t, want.Owner, got.Owner)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Equal(t, cases.TotalEscrow(), restored.TotalEscrow())

	pool, err := store.BalanceFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, restored.TotalEscrow(), pool)
}

func TestDurable_FailedMovementJournalsNothing(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	led := NewDurable(store)

	ev := &domain.Event{Seq: 1, Kind: domain.EventCaseCreated, CaseID: 0, Actor: "broke", Text: "x", Bounty: 5}
	err := led.Escrow(ctx, 0, "broke", 5, ev)
	assert.ErrorIs(t, err, storage.ErrInsufficientFunds)

	events, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDurable_JournalFailuresKeepRestartConsistent(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	require.NoError(t, store.Deposit(ctx, "owner", 10_000_000))

	flaky := &flakyStore{Store: store}
	led := NewDurable(flaky)
	rules := domain.DefaultRules()
	svc := domain.NewService(domain.NewCaseStore(rules), led, domain.WithJournal(led))

	id, err := svc.CreateCase(ctx, "owner", "black lab, answers to Max", 2_000_000)
	require.NoError(t, err)

	flaky.failAppend = errDiskFull
	err = svc.SubmitFinder(ctx, "finder", id, "at the park")
	assert.ErrorIs(t, err, domain.ErrJournalFailed)
	flaky.failAppend = nil
	require.NoError(t, svc.SubmitFinder(ctx, "finder2", id, "near the bakery"))

	flaky.failEscrow = errDiskFull
	_, err = svc.CreateCase(ctx, "owner", "grey parrot", 2_000_000)
	assert.ErrorIs(t, err, domain.ErrEscrowFailed)
	flaky.failEscrow = nil

	restored, _, _, err := NewDurable(store).Restore(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), restored.NextID())
	finders, err := restored.Finders(id)
	require.NoError(t, err)
	require.Len(t, finders, 1)
	assert.Equal(t, "finder2", finders[0].Account)

	// The next case after restart starts from an empty pool.
	restarted := domain.NewService(restored, led, domain.WithJournal(led))
	next, err := restarted.CreateCase(ctx, "owner", "grey parrot", 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
	pool, err := store.BalanceFor(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), pool)
}

func TestDurable_RestoreRejectsUnjournaledPool(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	require.NoError(t, store.Deposit(ctx, "owner", 100))
	require.NoError(t, store.Escrow(ctx, 4, "owner", 100, nil))

	_, _, _, err := NewDurable(store).Restore(ctx, domain.DefaultRules())
	assert.ErrorIs(t, err, ErrUnjournaledEscrow)
}
