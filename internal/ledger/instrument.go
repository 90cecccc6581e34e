package ledger

import (
	"context"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/observability/metrics"
)

// Instrument wraps l so that every movement is counted by kind and result.
func Instrument(l domain.Ledger) domain.Ledger {
	return &instrumented{next: l}
}

type instrumented struct {
	next domain.Ledger
}

func (i *instrumented) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, ev *domain.Event) error {
	err := i.next.Escrow(ctx, caseID, from, amount, ev)
	metrics.LedgerMovement("escrow", result(err))
	return err
}

func (i *instrumented) Payout(ctx context.Context, caseID uint64, to string, amount uint64, ev *domain.Event) error {
	err := i.next.Payout(ctx, caseID, to, amount, ev)
	metrics.LedgerMovement("payout", result(err))
	return err
}

func (i *instrumented) Refund(ctx context.Context, caseID uint64, to string, amount uint64, ev *domain.Event) error {
	err := i.next.Refund(ctx, caseID, to, amount, ev)
	metrics.LedgerMovement("refund", result(err))
	return err
}

func (i *instrumented) BalanceFor(ctx context.Context, caseID uint64) (uint64, error) {
	return i.next.BalanceFor(ctx, caseID)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
