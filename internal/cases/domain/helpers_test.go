package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errLedgerDown = errors.New("ledger unavailable")

// mockLedger is an in-memory ledger and journal with failure injection.
// Events are journaled only when their movement succeeds.
type mockLedger struct {
	mu       sync.Mutex
	pools    map[uint64]uint64
	accounts map[string]uint64

	escrowed uint64
	released uint64

	failEscrow    error
	failPayout    error
	failRefund    error
	failBalance   error
	failRefundFor map[uint64]error
	failAppend    error

	journal []Event
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		pools:         make(map[uint64]uint64),
		accounts:      make(map[string]uint64),
		failRefundFor: make(map[uint64]error),
	}
}

func (l *mockLedger) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failEscrow != nil {
		return l.failEscrow
	}
	l.pools[caseID] += amount
	l.escrowed += amount
	l.record(ev)
	return nil
}

func (l *mockLedger) Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPayout != nil {
		return l.failPayout
	}
	return l.move(caseID, to, amount, ev)
}

func (l *mockLedger) Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failRefund != nil {
		return l.failRefund
	}
	if err := l.failRefundFor[caseID]; err != nil {
		return err
	}
	return l.move(caseID, to, amount, ev)
}

func (l *mockLedger) Append(ctx context.Context, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAppend != nil {
		return l.failAppend
	}
	l.record(ev)
	return nil
}

func (l *mockLedger) record(ev *Event) {
	if ev != nil {
		l.journal = append(l.journal, *ev)
	}
}

func (l *mockLedger) journaled() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.journal))
	copy(out, l.journal)
	return out
}

func (l *mockLedger) BalanceFor(ctx context.Context, caseID uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failBalance != nil {
		return 0, l.failBalance
	}
	return l.pools[caseID], nil
}

func (l *mockLedger) move(caseID uint64, to string, amount uint64, ev *Event) error {
	if l.pools[caseID] < amount {
		return errors.New("insufficient pool balance")
	}
	l.pools[caseID] -= amount
	l.accounts[to] += amount
	l.released += amount
	l.record(ev)
	return nil
}

func (l *mockLedger) balance(account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account]
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// manualClock is a clock that only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const unit = uint64(1_000_000)

func testRules() Rules {
	return Rules{
		MinBounty:           unit / 10,
		DefaultExpiryPeriod: 7 * 24 * time.Hour,
		ResolveCooldown:     time.Hour,
		CancelCooldown:      2 * time.Hour,
	}
}

type fixture struct {
	svc    *service
	store  *CaseStore
	ledger *mockLedger
	events *recorder
	clock  *manualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewCaseStore(testRules()),
		ledger: newMockLedger(),
		events: &recorder{},
		clock:  newManualClock(),
	}
	f.svc = NewService(f.store, f.ledger, WithClock(f.clock), WithNotifier(f.events), WithJournal(f.ledger))
	return f
}

func (f *fixture) create(t *testing.T, owner string, value uint64) uint64 {
	t.Helper()
	id, err := f.svc.CreateCase(context.Background(), owner, "golden retriever, red collar", value)
	require.NoError(t, err)
	return id
}

// assertConservation checks that the store's escrow equals the sum of active
// bounties and the ledger's net inflow.
func (f *fixture) assertConservation(t *testing.T) {
	t.Helper()
	var sum uint64
	for id := uint64(0); id < f.store.TotalCases(); id++ {
		c, err := f.store.Get(id)
		require.NoError(t, err)
		if c.Status == StatusActive {
			sum += c.Bounty
		} else {
			require.Zero(t, c.Bounty, "case %d left active with a bounty", id)
		}
	}
	require.Equal(t, sum, f.store.TotalEscrow())
	f.ledger.mu.Lock()
	defer f.ledger.mu.Unlock()
	require.Equal(t, f.ledger.escrowed-f.ledger.released, sum)
}
