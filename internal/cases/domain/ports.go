package domain

import (
	"context"
	"time"
)

// Ledger moves value between per-case escrow pools and accounts.
// Any method may fail; the service never commits state on a failed call.
// Each movement carries the event that describes it. A durable ledger
// journals ev together with the movement or not at all.
type Ledger interface {
	Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *Event) error
	Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *Event) error
	Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *Event) error
	BalanceFor(ctx context.Context, caseID uint64) (uint64, error)
}

// Journal durably records events for mutations that move no value.
// A failed Append fails the mutation.
type Journal interface {
	Append(ctx context.Context, ev *Event) error
}

// Notifier receives an event for every committed mutation.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type nopJournal struct{}

func (nopJournal) Append(context.Context, *Event) error { return nil }
