package domain

import (
	"errors"
	"fmt"
)

// Errors returned by the case store and lifecycle service.
var (
	ErrNotFound           = errors.New("case not found")
	ErrUnauthorized       = errors.New("caller is not the case owner")
	ErrInvalidState       = errors.New("case is not in a valid state for this operation")
	ErrExpired            = errors.New("case has expired")
	ErrTooNew             = errors.New("case cooldown has not elapsed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidIndex       = errors.New("finder index out of range")
	ErrAlreadySubmitted   = errors.New("finder already submitted for this case")
	ErrFindersExist       = errors.New("case already has finders")
	ErrInsufficientEscrow = errors.New("escrow balance does not cover the bounty")
	ErrOverflow           = errors.New("amount overflow")
	ErrEscrowFailed       = errors.New("escrow failed")
	ErrPayoutFailed       = errors.New("payout failed")
	ErrJournalFailed      = errors.New("journal write failed")
)

// ErrInsufficientValue is returned when the value sent to create a case is below
// the configured minimum. It matches ErrInvalidInput under errors.Is.
var ErrInsufficientValue = fmt.Errorf("%w: value below minimum bounty", ErrInvalidInput)

// ledgerError wraps a ledger failure so that both the domain sentinel and the
// underlying cause match under errors.Is.
type ledgerError struct {
	kind  error
	op    string
	cause error
}

func (e *ledgerError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.kind, e.op, e.cause)
}

func (e *ledgerError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func escrowFailed(op string, err error) error {
	return &ledgerError{kind: ErrEscrowFailed, op: op, cause: err}
}

func payoutFailed(op string, err error) error {
	return &ledgerError{kind: ErrPayoutFailed, op: op, cause: err}
}

func journalFailed(op string, err error) error {
	return &ledgerError{kind: ErrJournalFailed, op: op, cause: err}
}
