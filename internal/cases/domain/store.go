package domain

import (
	"fmt"
	"math/bits"
	"strings"
	"sync"
	"time"
)

// caseRecord is the store-internal representation of a case.
type caseRecord struct {
	c         Case
	finders   []Finder
	finderIdx map[string]int

	// pending holds a tentative terminal transition awaiting the ledger.
	// Views keep reporting the committed state until it is committed.
	pending *pendingTransition
}

type pendingTransition struct {
	to     Status
	amount uint64
}

// CaseStore owns all case records, finder submissions and escrow balances.
// It guards data invariants only; authorization and timing rules belong to
// the lifecycle service.
type CaseStore struct {
	mu          sync.RWMutex
	rules       Rules
	cases       []*caseRecord
	byOwner     map[string][]uint64
	totalEscrow uint64
}

// NewCaseStore creates an empty store enforcing the given rules.
func NewCaseStore(rules Rules) *CaseStore {
	return &CaseStore{
		rules:   rules,
		byOwner: make(map[string][]uint64),
	}
}

// Rules returns the rules the store was created with.
func (s *CaseStore) Rules() Rules {
	return s.rules
}

// NextID returns the id the next successful Allocate will assign.
func (s *CaseStore) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.cases))
}

// Allocate creates a new active case owned by owner.
func (s *CaseStore) Allocate(owner, description string, bounty uint64, now time.Time) (uint64, error) {
	if owner == "" {
		return 0, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if strings.TrimSpace(description) == "" {
		return 0, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if bounty < s.rules.MinBounty || bounty == 0 {
		return 0, fmt.Errorf("%w: bounty %d below minimum %d", ErrInvalidInput, bounty, s.rules.MinBounty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := addChecked(s.totalEscrow, bounty)
	if err != nil {
		return 0, err
	}

	id := uint64(len(s.cases))
	s.cases = append(s.cases, &caseRecord{
		c: Case{
			ID:          id,
			Owner:       owner,
			Description: description,
			Bounty:      bounty,
			Status:      StatusActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.rules.DefaultExpiryPeriod),
		},
		finderIdx: make(map[string]int),
	})
	s.byOwner[owner] = append(s.byOwner[owner], id)
	s.totalEscrow = total
	return id, nil
}

// Unallocate removes the most recently allocated case. It is a no-op unless
// id is that case and nothing has been recorded against it.
func (s *CaseStore) Unallocate(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.cases)
	if n == 0 || id != uint64(n-1) {
		return
	}
	rec := s.cases[n-1]
	if len(rec.finders) > 0 || rec.pending != nil {
		return
	}
	s.cases = s.cases[:n-1]
	owned := s.byOwner[rec.c.Owner]
	if len(owned) > 0 && owned[len(owned)-1] == id {
		owned = owned[:len(owned)-1]
	}
	if len(owned) == 0 {
		delete(s.byOwner, rec.c.Owner)
	} else {
		s.byOwner[rec.c.Owner] = owned
	}
	s.totalEscrow -= rec.c.Bounty
}

// Get returns a copy of the committed state of a case.
func (s *CaseStore) Get(id uint64) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(id)
	if err != nil {
		return Case{}, err
	}
	return rec.c, nil
}

// AddBounty increases the escrowed bounty of an active case.
func (s *CaseStore) AddBounty(id, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil {
		return err
	}
	if rec.c.Status != StatusActive || rec.pending != nil {
		return fmt.Errorf("%w: case %d is %s", ErrInvalidState, id, rec.c.Status)
	}
	bounty, err := addChecked(rec.c.Bounty, amount)
	if err != nil {
		return err
	}
	total, err := addChecked(s.totalEscrow, amount)
	if err != nil {
		return err
	}
	rec.c.Bounty = bounty
	s.totalEscrow = total
	return nil
}

// RevertBounty takes back an amount added by AddBounty.
func (s *CaseStore) RevertBounty(id, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil {
		return err
	}
	if rec.c.Status != StatusActive || rec.c.Bounty < amount || s.totalEscrow < amount {
		return fmt.Errorf("%w: cannot revert %d from case %d", ErrInvalidState, amount, id)
	}
	rec.c.Bounty -= amount
	s.totalEscrow -= amount
	return nil
}

// AppendFinder records a finder submission at the end of the case's finder list.
func (s *CaseStore) AppendFinder(id uint64, account, evidence string, now time.Time) error {
	if account == "" {
		return fmt.Errorf("%w: finder account is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil {
		return err
	}
	if _, ok := rec.finderIdx[account]; ok {
		return ErrAlreadySubmitted
	}
	if strings.TrimSpace(evidence) == "" {
		return fmt.Errorf("%w: evidence is required", ErrInvalidInput)
	}
	rec.finderIdx[account] = len(rec.finders)
	rec.finders = append(rec.finders, Finder{
		Account:     account,
		Evidence:    evidence,
		SubmittedAt: now,
	})
	return nil
}

// RemoveLastFinder drops the most recent submission if it belongs to account.
func (s *CaseStore) RemoveLastFinder(id uint64, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil || len(rec.finders) == 0 {
		return
	}
	last := len(rec.finders) - 1
	if rec.finders[last].Account != account {
		return
	}
	rec.finders = rec.finders[:last]
	delete(rec.finderIdx, account)
}

// FinderAt returns the account of the finder at index.
func (s *CaseStore) FinderAt(id uint64, index int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(rec.finders) {
		return "", fmt.Errorf("%w: index %d, %d finders", ErrInvalidIndex, index, len(rec.finders))
	}
	return rec.finders[index].Account, nil
}

// FinderSlice returns at most count finders starting at start. A start past
// the end yields an empty slice rather than an error.
func (s *CaseStore) FinderSlice(id uint64, start, count int) ([]Finder, error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: negative start %d", ErrInvalidIndex, start)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidInput, count)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	if start >= len(rec.finders) {
		return []Finder{}, nil
	}
	end := len(rec.finders)
	if count < end-start {
		end = start + count
	}
	out := make([]Finder, end-start)
	copy(out, rec.finders[start:end])
	return out, nil
}

// Finders returns the full ordered finder list of a case.
func (s *CaseStore) Finders(id uint64) ([]Finder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	out := make([]Finder, len(rec.finders))
	copy(out, rec.finders)
	return out, nil
}

// FinderCount returns the number of finders submitted for a case.
func (s *CaseStore) FinderCount(id uint64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}
	return len(rec.finders), nil
}

// LookupFinder returns the submission of account for a case, if any.
func (s *CaseStore) LookupFinder(id uint64, account string) (Finder, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return Finder{}, false, err
	}
	i, ok := rec.finderIdx[account]
	if !ok {
		return Finder{}, false, nil
	}
	return rec.finders[i], true, nil
}

// Transition moves a case out of Active in one step, zeroing its bounty.
// It returns the released amount.
func (s *CaseStore) Transition(id uint64, to Status) (uint64, error) {
	amount, err := s.BeginTransition(id, to)
	if err != nil {
		return 0, err
	}
	if err := s.CommitTransition(id); err != nil {
		return 0, err
	}
	return amount, nil
}

// BeginTransition tentatively marks a case for a terminal transition and
// returns the amount that must leave escrow. The case keeps its committed
// state until CommitTransition; AbortTransition discards the mark.
func (s *CaseStore) BeginTransition(id uint64, to Status) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}
	if rec.pending != nil {
		return 0, fmt.Errorf("%w: case %d has a transition in progress", ErrInvalidState, id)
	}
	if !rec.c.Status.CanTransitionTo(to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidState, rec.c.Status, to)
	}
	rec.pending = &pendingTransition{to: to, amount: rec.c.Bounty}
	return rec.c.Bounty, nil
}

// CommitTransition applies a pending transition.
func (s *CaseStore) CommitTransition(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(id)
	if err != nil {
		return err
	}
	if rec.pending == nil {
		return fmt.Errorf("%w: case %d has no pending transition", ErrInvalidState, id)
	}
	s.totalEscrow -= rec.c.Bounty
	rec.c.Status = rec.pending.to
	rec.c.Bounty = 0
	rec.pending = nil
	return nil
}

// AbortTransition discards a pending transition, leaving the case untouched.
func (s *CaseStore) AbortTransition(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, err := s.record(id); err == nil {
		rec.pending = nil
	}
}

// TotalCases returns the number of cases ever created.
func (s *CaseStore) TotalCases() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.cases))
}

// CaseEscrow returns the escrowed amount of a case, zero unless it is active.
func (s *CaseStore) CaseEscrow(id uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}
	if rec.c.Status != StatusActive {
		return 0, nil
	}
	return rec.c.Bounty, nil
}

// TotalEscrow returns the sum of bounties over all active cases.
func (s *CaseStore) TotalEscrow() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalEscrow
}

// CasesByOwner returns the ids of cases created by owner in creation order.
func (s *CaseStore) CasesByOwner(owner string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// ActiveCases returns the ids of cases that are active and not yet expired at now.
func (s *CaseStore) ActiveCases(now time.Time) []uint64 {
	return s.collect(func(c *Case) bool {
		return c.Status == StatusActive && !c.IsExpiredAt(now)
	})
}

// DueForExpiry returns the ids of active cases whose deadline has passed at now.
func (s *CaseStore) DueForExpiry(now time.Time) []uint64 {
	return s.collect(func(c *Case) bool {
		return c.Status == StatusActive && c.IsExpiredAt(now)
	})
}

// Stats returns global aggregates computed under a single snapshot.
func (s *CaseStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalCases: uint64(len(s.cases)), TotalEscrow: s.totalEscrow}
	for _, rec := range s.cases {
		if rec.c.Status == StatusActive {
			st.ActiveCases++
		}
	}
	return st
}

func (s *CaseStore) collect(match func(*Case) bool) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []uint64{}
	for _, rec := range s.cases {
		if match(&rec.c) {
			ids = append(ids, rec.c.ID)
		}
	}
	return ids
}

// record must be called with s.mu held.
func (s *CaseStore) record(id uint64) (*caseRecord, error) {
	if id >= uint64(len(s.cases)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.cases[id], nil
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}
