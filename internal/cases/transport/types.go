// Package transport provides HTTP request/response types for the cases domain.
package transport

import (
	"time"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
)

// CreateCaseRequest is the HTTP request body for opening a case.
type CreateCaseRequest struct {
	Description string `json:"description"`
	Value       uint64 `json:"value"`
}

// IncreaseBountyRequest is the HTTP request body for adding to a bounty.
type IncreaseBountyRequest struct {
	Value uint64 `json:"value"`
}

// SubmitFinderRequest is the HTTP request body for a finder claim.
type SubmitFinderRequest struct {
	Evidence string `json:"evidence"`
}

// ResolveRequest is the HTTP request body for resolving a case.
type ResolveRequest struct {
	FinderIndex *int `json:"finderIndex"`
}

// BatchExpireRequest is the HTTP request body for a batch expiry pass.
type BatchExpireRequest struct {
	IDs []uint64 `json:"ids"`
}

// DepositRequest is the HTTP request body for funding an account.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// CreateCaseResponse is returned when a case is opened.
type CreateCaseResponse struct {
	ID uint64 `json:"id"`
}

// ExpireResponse reports whether a single case was expired.
type ExpireResponse struct {
	ID      uint64 `json:"id"`
	Expired bool   `json:"expired"`
}

// BatchExpireResponse reports a batch expiry pass. Failed maps case ids to
// error messages.
type BatchExpireResponse struct {
	Count   int               `json:"count"`
	Expired []uint64          `json:"expired"`
	Failed  map[string]string `json:"failed"`
}

// FinderItem is a finder in a paginated list.
type FinderItem struct {
	Index       int       `json:"index"`
	Account     string    `json:"account"`
	Evidence    string    `json:"evidence"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// FinderListResponse is a page of finders.
type FinderListResponse struct {
	Data       []FinderItem `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Start int  `json:"start"`
	Count int  `json:"count"`
	Total int  `json:"total"`
	More  bool `json:"hasMore"`
}

// FinderEvidenceResponse is the evidence one account submitted.
type FinderEvidenceResponse struct {
	Account  string `json:"account"`
	Evidence string `json:"evidence"`
}

// EscrowResponse is the escrow state of a case.
type EscrowResponse struct {
	ID     uint64 `json:"id"`
	Escrow uint64 `json:"escrow"`
	Funded bool   `json:"funded"`
}

// CaseListResponse is a list of case ids.
type CaseListResponse struct {
	Data []uint64 `json:"data"`
}

// AccountResponse is the balance of a ledger account.
type AccountResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

func toBatchResponse(res domain.BatchResult) BatchExpireResponse {
	out := BatchExpireResponse{
		Count:   res.Count,
		Expired: res.Expired,
		Failed:  make(map[string]string, len(res.Failed)),
	}
	if out.Expired == nil {
		out.Expired = []uint64{}
	}
	for id, err := range res.Failed {
		out.Failed[formatID(id)] = err.Error()
	}
	return out
}
