// Package domain contains the case lifecycle and escrow accounting for lost-pet bounties.
package domain

import (
	"time"
)

// Status is the lifecycle state of a case.
type Status string

// Case statuses. Every status other than StatusActive is terminal.
const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// CanTransitionTo reports whether s -> next is a legal edge of the case state machine.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusActive {
		return false
	}
	switch next {
	case StatusResolved, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Case is a lost-pet bounty request.
type Case struct {
	ID          uint64
	Owner       string
	Description string
	Bounty      uint64
	Status      Status
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpiredAt reports whether the expiry deadline has been reached at now.
// A case is expired exactly at its deadline.
func (c *Case) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Finder is a claim of having found the pet for a case.
type Finder struct {
	Account     string
	Evidence    string
	SubmittedAt time.Time
}

// CaseBasic is the summary view of a case.
type CaseBasic struct {
	ID          uint64    `json:"id"`
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	Bounty      uint64    `json:"bounty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// CaseFull is the complete view of a case including its finder list.
type CaseFull struct {
	CaseBasic
	FinderCount int      `json:"finderCount"`
	Finders     []string `json:"finders"`
	Funded      bool     `json:"funded"`
}

// Stats holds global aggregates across all cases.
type Stats struct {
	TotalCases  uint64 `json:"totalCases"`
	ActiveCases int    `json:"activeCases"`
	TotalEscrow uint64 `json:"totalEscrow"`
}

// BatchResult reports the outcome of a batch expiry pass. Count is the
// number of cases that were expired by the pass.
type BatchResult struct {
	Count   int              `json:"count"`
	Expired []uint64         `json:"expired"`
	Failed  map[uint64]error `json:"-"`
}

// EventKind names a state-changing notification.
type EventKind string

// Event kinds emitted after successful mutations.
const (
	EventCaseCreated     EventKind = "case.created"
	EventBountyIncreased EventKind = "case.bounty_increased"
	EventFinderSubmitted EventKind = "case.finder_submitted"
	EventCaseResolved    EventKind = "case.resolved"
	EventCaseCancelled   EventKind = "case.cancelled"
	EventCaseExpired     EventKind = "case.expired"
)

// Event is a structured notification describing one committed mutation.
// Fields not relevant to a kind are left zero.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	CaseID    uint64    `json:"caseId"`
	Actor     string    `json:"actor,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Bounty    uint64    `json:"bounty,omitempty"`
	Text      string    `json:"text,omitempty"`
	At        time.Time `json:"at"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Rules holds the configured bounty rules.
type Rules struct {
	MinBounty           uint64
	DefaultExpiryPeriod time.Duration
	ResolveCooldown     time.Duration
	CancelCooldown      time.Duration
}

// DefaultRules returns the rules used when nothing is configured.
func DefaultRules() Rules {
	return Rules{
		MinBounty:           1_000_000,
		DefaultExpiryPeriod: 30 * 24 * time.Hour,
		ResolveCooldown:     time.Hour,
		CancelCooldown:      time.Hour,
	}
}
