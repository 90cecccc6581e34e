package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrFinderNotFound is returned when an account has not submitted for a case.
var ErrFinderNotFound = errors.New("finder not found")

// Service defines the case lifecycle and query interface.
type Service interface {
	// CreateCase escrows value from caller and opens a new case.
	CreateCase(ctx context.Context, caller, description string, value uint64) (uint64, error)

	// IncreaseBounty escrows more value against an active case.
	IncreaseBounty(ctx context.Context, caller string, caseID, value uint64) error

	// SubmitFinder records caller as a finder of the case.
	SubmitFinder(ctx context.Context, caller string, caseID uint64, evidence string) error

	// ResolveCase pays the bounty to the finder at finderIndex.
	ResolveCase(ctx context.Context, caller string, caseID uint64, finderIndex int) error

	// CancelCase refunds an unclaimed case to its owner.
	CancelCase(ctx context.Context, caller string, caseID uint64) error

	// CheckAndProcessExpiry refunds and expires a case past its deadline.
	CheckAndProcessExpiry(ctx context.Context, caseID uint64) (bool, error)

	// BatchCheckExpiry runs CheckAndProcessExpiry over ids, isolating failures.
	BatchCheckExpiry(ctx context.Context, caseIDs []uint64) BatchResult

	GetCaseBasic(ctx context.Context, caseID uint64) (*CaseBasic, error)
	GetCaseFull(ctx context.Context, caseID uint64) (*CaseFull, error)
	GetFinders(ctx context.Context, caseID uint64) ([]string, error)
	GetFinderCount(ctx context.Context, caseID uint64) (int, error)
	IsFinder(ctx context.Context, caseID uint64, account string) (bool, error)
	GetFinderEvidence(ctx context.Context, caseID uint64, account string) (string, error)
	GetFindersPaginated(ctx context.Context, caseID uint64, start, count int) ([]Finder, error)
	GetTotalCases(ctx context.Context) uint64
	GetTotalEscrow(ctx context.Context) uint64
	GetCaseEscrow(ctx context.Context, caseID uint64) (uint64, error)
	IsCaseFunded(ctx context.Context, caseID uint64) (bool, error)
	GetActiveCases(ctx context.Context) []uint64
	GetCasesByOwner(ctx context.Context, owner string) []uint64
	DueForExpiry(ctx context.Context) []uint64
	Stats(ctx context.Context) Stats
}

// Option configures a service.
type Option func(*service)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(s *service) {
		s.clock = c
	}
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(s *service) {
		s.notifier = n
	}
}

// WithJournal sets where events of mutations that move no value are recorded.
func WithJournal(j Journal) Option {
	return func(s *service) {
		s.journal = j
	}
}

// WithSequenceStart makes the next emitted event carry seq+1.
func WithSequenceStart(seq uint64) Option {
	return func(s *service) {
		s.seq.Store(seq)
	}
}

type service struct {
	store    *CaseStore
	ledger   Ledger
	journal  Journal
	notifier Notifier
	clock    Clock

	createMu sync.Mutex
	locks    sync.Map // uint64 -> *sync.Mutex
	seq      atomic.Uint64
}

// NewService creates a new lifecycle service over store and ledger.
func NewService(store *CaseStore, ledger Ledger, opts ...Option) *service {
	s := &service{
		store:    store,
		ledger:   ledger,
		journal:  nopJournal{},
		notifier: nopNotifier{},
		clock:    SystemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockCase serializes mutations of an existing case. Unknown ids fail
// before a lock entry is created for them.
func (s *service) lockCase(id uint64) (func(), error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	return s.lockID(id), nil
}

func (s *service) lockID(id uint64) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// stamp numbers an event and fills in its time. Numbers are strictly
// increasing; a mutation that fails after stamping leaves a gap.
func (s *service) stamp(ev Event) *Event {
	ev.Seq = s.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	return &ev
}

// CreateCase escrows value from caller and opens a new case.
func (s *service) CreateCase(ctx context.Context, caller, description string, value uint64) (uint64, error) {
	if caller == "" {
		return 0, fmt.Errorf("%w: caller is required", ErrInvalidInput)
	}
	if strings.TrimSpace(description) == "" {
		return 0, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	rules := s.store.Rules()
	if value == 0 || value < rules.MinBounty {
		return 0, fmt.Errorf("%w: got %d, minimum %d", ErrInsufficientValue, value, rules.MinBounty)
	}

	// Creation is serialized so ids stay dense, and the new case is locked
	// before it becomes visible so nothing acts on it until it is funded.
	s.createMu.Lock()
	defer s.createMu.Unlock()
	unlock := s.lockID(s.store.NextID())
	defer unlock()

	now := s.clock.Now()
	id, err := s.store.Allocate(caller, description, value, now)
	if err != nil {
		return 0, err
	}

	c, _ := s.store.Get(id)
	ev := s.stamp(Event{
		Kind:      EventCaseCreated,
		CaseID:    id,
		Actor:     caller,
		Amount:    value,
		Bounty:    value,
		Text:      description,
		At:        now,
		ExpiresAt: c.ExpiresAt,
	})
	if err := s.ledger.Escrow(ctx, id, caller, value, ev); err != nil {
		s.store.Unallocate(id)
		return 0, escrowFailed("create", err)
	}

	s.notifier.Notify(ctx, *ev)
	return id, nil
}

// IncreaseBounty escrows more value against an active case.
func (s *service) IncreaseBounty(ctx context.Context, caller string, caseID, value uint64) error {
	unlock, err := s.lockCase(caseID)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.store.Get(caseID)
	if err != nil {
		return err
	}
	if caller != c.Owner {
		return ErrUnauthorized
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: case is %s", ErrInvalidState, c.Status)
	}
	if c.IsExpiredAt(s.clock.Now()) {
		return ErrExpired
	}
	if value == 0 {
		return fmt.Errorf("%w: value must be positive", ErrInvalidInput)
	}

	if err := s.store.AddBounty(caseID, value); err != nil {
		return err
	}
	ev := s.stamp(Event{
		Kind:   EventBountyIncreased,
		CaseID: caseID,
		Actor:  caller,
		Amount: value,
		Bounty: c.Bounty + value,
	})
	if err := s.ledger.Escrow(ctx, caseID, caller, value, ev); err != nil {
		if rerr := s.store.RevertBounty(caseID, value); rerr != nil {
			return errors.Join(escrowFailed("increase", err), rerr)
		}
		return escrowFailed("increase", err)
	}

	s.notifier.Notify(ctx, *ev)
	return nil
}

// SubmitFinder records caller as a finder of the case.
func (s *service) SubmitFinder(ctx context.Context, caller string, caseID uint64, evidence string) error {
	unlock, err := s.lockCase(caseID)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.store.Get(caseID)
	if err != nil {
		return err
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: case is %s", ErrInvalidState, c.Status)
	}
	now := s.clock.Now()
	if c.IsExpiredAt(now) {
		return ErrExpired
	}
	if err := s.store.AppendFinder(caseID, caller, evidence, now); err != nil {
		return err
	}
	ev := s.stamp(Event{
		Kind:   EventFinderSubmitted,
		CaseID: caseID,
		Actor:  caller,
		Text:   evidence,
		At:     now,
	})
	if err := s.journal.Append(ctx, ev); err != nil {
		s.store.RemoveLastFinder(caseID, caller)
		return journalFailed("submit", err)
	}

	s.notifier.Notify(ctx, *ev)
	return nil
}

// ResolveCase pays the bounty to the finder at finderIndex.
func (s *service) ResolveCase(ctx context.Context, caller string, caseID uint64, finderIndex int) error {
	unlock, err := s.lockCase(caseID)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.store.Get(caseID)
	if err != nil {
		return err
	}
	if caller != c.Owner {
		return ErrUnauthorized
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: case is %s", ErrInvalidState, c.Status)
	}
	now := s.clock.Now()
	if c.IsExpiredAt(now) {
		return ErrExpired
	}
	if now.Sub(c.CreatedAt) < s.store.Rules().ResolveCooldown {
		return ErrTooNew
	}
	finder, err := s.store.FinderAt(caseID, finderIndex)
	if err != nil {
		return err
	}

	balance, err := s.ledger.BalanceFor(ctx, caseID)
	if err != nil {
		return payoutFailed("balance", err)
	}
	if balance < c.Bounty {
		return fmt.Errorf("%w: pool holds %d, bounty is %d", ErrInsufficientEscrow, balance, c.Bounty)
	}

	ev := Event{
		Kind:      EventCaseResolved,
		CaseID:    caseID,
		Actor:     caller,
		Recipient: finder,
		At:        now,
	}
	return s.settle(ctx, StatusResolved, ev, s.ledger.Payout)
}

// CancelCase refunds an unclaimed case to its owner.
func (s *service) CancelCase(ctx context.Context, caller string, caseID uint64) error {
	unlock, err := s.lockCase(caseID)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.store.Get(caseID)
	if err != nil {
		return err
	}
	if caller != c.Owner {
		return ErrUnauthorized
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: case is %s", ErrInvalidState, c.Status)
	}
	count, err := s.store.FinderCount(caseID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d submitted", ErrFindersExist, count)
	}
	now := s.clock.Now()
	if c.IsExpiredAt(now) {
		return ErrExpired
	}
	if now.Sub(c.CreatedAt) < s.store.Rules().CancelCooldown {
		return ErrTooNew
	}

	ev := Event{
		Kind:      EventCaseCancelled,
		CaseID:    caseID,
		Actor:     caller,
		Recipient: c.Owner,
		At:        now,
	}
	return s.settle(ctx, StatusCancelled, ev, s.ledger.Refund)
}

// CheckAndProcessExpiry refunds and expires a case past its deadline.
// It reports false without mutating anything when the case is not due.
func (s *service) CheckAndProcessExpiry(ctx context.Context, caseID uint64) (bool, error) {
	unlock, err := s.lockCase(caseID)
	if err != nil {
		return false, err
	}
	defer unlock()

	c, err := s.store.Get(caseID)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	if c.Status != StatusActive || !c.IsExpiredAt(now) || c.Bounty == 0 {
		return false, nil
	}

	ev := Event{
		Kind:      EventCaseExpired,
		CaseID:    caseID,
		Recipient: c.Owner,
		At:        now,
	}
	if err := s.settle(ctx, StatusExpired, ev, s.ledger.Refund); err != nil {
		return false, err
	}
	return true, nil
}

// BatchCheckExpiry runs CheckAndProcessExpiry over ids in order. A failure on
// one id is recorded in the result and does not stop the remaining ids.
func (s *service) BatchCheckExpiry(ctx context.Context, caseIDs []uint64) BatchResult {
	res := BatchResult{Expired: []uint64{}, Failed: map[uint64]error{}}
	for _, id := range caseIDs {
		ok, err := s.CheckAndProcessExpiry(ctx, id)
		if err != nil {
			res.Failed[id] = err
			continue
		}
		if ok {
			res.Count++
			res.Expired = append(res.Expired, id)
		}
	}
	return res
}

type movement func(ctx context.Context, caseID uint64, to string, amount uint64, ev *Event) error

// settle runs a terminal transition as one unit with its ledger movement:
// the case is marked, the released amount is moved to ev.Recipient together
// with ev, and the mark is committed only if the move succeeds.
func (s *service) settle(ctx context.Context, to Status, ev Event, move movement) error {
	amount, err := s.store.BeginTransition(ev.CaseID, to)
	if err != nil {
		return err
	}
	ev.Amount = amount
	stamped := s.stamp(ev)
	if err := move(ctx, ev.CaseID, ev.Recipient, amount, stamped); err != nil {
		s.store.AbortTransition(ev.CaseID)
		return payoutFailed(string(to), err)
	}
	if err := s.store.CommitTransition(ev.CaseID); err != nil {
		return err
	}
	s.notifier.Notify(ctx, *stamped)
	return nil
}

// GetCaseBasic returns the summary view of a case.
func (s *service) GetCaseBasic(ctx context.Context, caseID uint64) (*CaseBasic, error) {
	c, err := s.store.Get(caseID)
	if err != nil {
		return nil, err
	}
	basic := toBasic(c)
	return &basic, nil
}

// GetCaseFull returns the case together with its finder list and funding state.
func (s *service) GetCaseFull(ctx context.Context, caseID uint64) (*CaseFull, error) {
	c, err := s.store.Get(caseID)
	if err != nil {
		return nil, err
	}
	finders, err := s.store.Finders(caseID)
	if err != nil {
		return nil, err
	}
	funded, err := s.IsCaseFunded(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return &CaseFull{
		CaseBasic:   toBasic(c),
		FinderCount: len(finders),
		Finders:     accounts(finders),
		Funded:      funded,
	}, nil
}

// GetFinders returns the finder accounts of a case in submission order.
func (s *service) GetFinders(ctx context.Context, caseID uint64) ([]string, error) {
	finders, err := s.store.Finders(caseID)
	if err != nil {
		return nil, err
	}
	return accounts(finders), nil
}

// GetFinderCount returns the number of finders of a case.
func (s *service) GetFinderCount(ctx context.Context, caseID uint64) (int, error) {
	return s.store.FinderCount(caseID)
}

// IsFinder reports whether account has submitted for a case.
func (s *service) IsFinder(ctx context.Context, caseID uint64, account string) (bool, error) {
	_, ok, err := s.store.LookupFinder(caseID, account)
	return ok, err
}

// GetFinderEvidence returns the evidence submitted by account.
func (s *service) GetFinderEvidence(ctx context.Context, caseID uint64, account string) (string, error) {
	f, ok, err := s.store.LookupFinder(caseID, account)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrFinderNotFound
	}
	return f.Evidence, nil
}

// GetFindersPaginated returns a page of finders; an out of range start yields an empty page.
func (s *service) GetFindersPaginated(ctx context.Context, caseID uint64, start, count int) ([]Finder, error) {
	return s.store.FinderSlice(caseID, start, count)
}

// GetTotalCases returns the number of cases ever created.
func (s *service) GetTotalCases(ctx context.Context) uint64 {
	return s.store.TotalCases()
}

// GetTotalEscrow returns the sum of all active bounties.
func (s *service) GetTotalEscrow(ctx context.Context) uint64 {
	return s.store.TotalEscrow()
}

// GetCaseEscrow returns the escrowed amount of a case.
func (s *service) GetCaseEscrow(ctx context.Context, caseID uint64) (uint64, error) {
	return s.store.CaseEscrow(caseID)
}

// IsCaseFunded reports whether a case is active and its ledger pool covers the bounty.
func (s *service) IsCaseFunded(ctx context.Context, caseID uint64) (bool, error) {
	c, err := s.store.Get(caseID)
	if err != nil {
		return false, err
	}
	if c.Status != StatusActive || c.Bounty == 0 {
		return false, nil
	}
	balance, err := s.ledger.BalanceFor(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("reading escrow balance: %w", err)
	}
	return balance >= c.Bounty, nil
}

// GetActiveCases returns the ids of active, unexpired cases.
func (s *service) GetActiveCases(ctx context.Context) []uint64 {
	return s.store.ActiveCases(s.clock.Now())
}

// GetCasesByOwner returns the ids of cases created by owner.
func (s *service) GetCasesByOwner(ctx context.Context, owner string) []uint64 {
	return s.store.CasesByOwner(owner)
}

// DueForExpiry returns the ids of active cases past their deadline.
func (s *service) DueForExpiry(ctx context.Context) []uint64 {
	return s.store.DueForExpiry(s.clock.Now())
}

// Stats returns global aggregates.
func (s *service) Stats(ctx context.Context) Stats {
	return s.store.Stats()
}

func toBasic(c Case) CaseBasic {
	return CaseBasic{
		ID:          c.ID,
		Owner:       c.Owner,
		Description: c.Description,
		Bounty:      c.Bounty,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
	}
}

func accounts(finders []Finder) []string {
	out := make([]string, len(finders))
	for i, f := range finders {
		out[i] = f.Account
	}
	return out
}
