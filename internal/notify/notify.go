// Package notify provides event sinks for committed case mutations.
package notify

import (
	"context"
	"log/slog"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
)

// Log writes each event as a structured log record.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a notifier that logs to logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements domain.Notifier.
func (l *Log) Notify(ctx context.Context, ev domain.Event) {
	attrs := []any{
		"seq", ev.Seq,
		"caseId", ev.CaseID,
	}
	if ev.Actor != "" {
		attrs = append(attrs, "actor", ev.Actor)
	}
	if ev.Recipient != "" {
		attrs = append(attrs, "recipient", ev.Recipient)
	}
	if ev.Amount != 0 {
		attrs = append(attrs, "amount", ev.Amount)
	}
	l.logger.InfoContext(ctx, string(ev.Kind), attrs...)
}
