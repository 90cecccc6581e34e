package domain

import (
	"fmt"
	"sort"
)

// Restore rebuilds a store from journaled events. Events are applied in
// sequence order; the highest applied sequence is returned so the service
// can continue numbering after it.
func Restore(rules Rules, events []Event) (*CaseStore, uint64, error) {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	store := NewCaseStore(rules)
	var last uint64
	for _, ev := range sorted {
		if err := store.apply(ev); err != nil {
			return nil, 0, fmt.Errorf("replaying event %d (%s, case %d): %w", ev.Seq, ev.Kind, ev.CaseID, err)
		}
		last = ev.Seq
	}
	return store, last, nil
}

func (s *CaseStore) apply(ev Event) error {
	switch ev.Kind {
	case EventCaseCreated:
		return s.restoreCase(ev)
	case EventBountyIncreased:
		return s.AddBounty(ev.CaseID, ev.Amount)
	case EventFinderSubmitted:
		return s.AppendFinder(ev.CaseID, ev.Actor, ev.Text, ev.At)
	case EventCaseResolved:
		_, err := s.Transition(ev.CaseID, StatusResolved)
		return err
	case EventCaseCancelled:
		_, err := s.Transition(ev.CaseID, StatusCancelled)
		return err
	case EventCaseExpired:
		_, err := s.Transition(ev.CaseID, StatusExpired)
		return err
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// restoreCase re-creates a journaled case as it was created, independent of
// the minimum bounty and expiry period currently configured.
func (s *CaseStore) restoreCase(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.CaseID != uint64(len(s.cases)) {
		return fmt.Errorf("case id %d out of order, expected %d", ev.CaseID, len(s.cases))
	}
	total, err := addChecked(s.totalEscrow, ev.Bounty)
	if err != nil {
		return err
	}
	expiresAt := ev.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = ev.At.Add(s.rules.DefaultExpiryPeriod)
	}
	s.cases = append(s.cases, &caseRecord{
		c: Case{
			ID:          ev.CaseID,
			Owner:       ev.Actor,
			Description: ev.Text,
			Bounty:      ev.Bounty,
			Status:      StatusActive,
			CreatedAt:   ev.At,
			ExpiresAt:   expiresAt,
		},
		finderIdx: make(map[string]int),
	})
	s.byOwner[ev.Actor] = append(s.byOwner[ev.Actor], ev.CaseID)
	s.totalEscrow = total
	return nil
}
