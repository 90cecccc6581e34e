package domain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pendergraft/lostpaws/internal/observability/metrics"
)

// LoggingMiddleware returns a service middleware that logs all operations and
// records per-operation metrics.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

// observe logs a mutating operation and updates metrics.
func (m *loggingMiddleware) observe(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "duration", time.Since(start), "error", err)
	level := slog.LevelInfo
	if err != nil && !isClientError(err) {
		level = slog.LevelError
	}
	m.logger.Log(ctx, level, op, attrs...)

	metrics.CaseOperation(op, resultLabel(err))
	st := m.next.Stats(ctx)
	metrics.EscrowSnapshot(st.TotalEscrow, st.ActiveCases)
}

func (m *loggingMiddleware) CreateCase(ctx context.Context, caller, description string, value uint64) (uint64, error) {
	start := time.Now()
	id, err := m.next.CreateCase(ctx, caller, description, value)
	m.observe(ctx, "CreateCase", start, err,
		"caller", caller,
		"value", value,
		"caseId", id,
	)
	return id, err
}

func (m *loggingMiddleware) IncreaseBounty(ctx context.Context, caller string, caseID, value uint64) error {
	start := time.Now()
	err := m.next.IncreaseBounty(ctx, caller, caseID, value)
	m.observe(ctx, "IncreaseBounty", start, err,
		"caller", caller,
		"caseId", caseID,
		"value", value,
	)
	return err
}

func (m *loggingMiddleware) SubmitFinder(ctx context.Context, caller string, caseID uint64, evidence string) error {
	start := time.Now()
	err := m.next.SubmitFinder(ctx, caller, caseID, evidence)
	m.observe(ctx, "SubmitFinder", start, err,
		"caller", caller,
		"caseId", caseID,
		"evidenceLen", len(evidence),
	)
	return err
}

func (m *loggingMiddleware) ResolveCase(ctx context.Context, caller string, caseID uint64, finderIndex int) error {
	start := time.Now()
	err := m.next.ResolveCase(ctx, caller, caseID, finderIndex)
	m.observe(ctx, "ResolveCase", start, err,
		"caller", caller,
		"caseId", caseID,
		"finderIndex", finderIndex,
	)
	return err
}

func (m *loggingMiddleware) CancelCase(ctx context.Context, caller string, caseID uint64) error {
	start := time.Now()
	err := m.next.CancelCase(ctx, caller, caseID)
	m.observe(ctx, "CancelCase", start, err,
		"caller", caller,
		"caseId", caseID,
	)
	return err
}

func (m *loggingMiddleware) CheckAndProcessExpiry(ctx context.Context, caseID uint64) (bool, error) {
	start := time.Now()
	expired, err := m.next.CheckAndProcessExpiry(ctx, caseID)
	m.observe(ctx, "CheckAndProcessExpiry", start, err,
		"caseId", caseID,
		"expired", expired,
	)
	return expired, err
}

func (m *loggingMiddleware) BatchCheckExpiry(ctx context.Context, caseIDs []uint64) BatchResult {
	start := time.Now()
	res := m.next.BatchCheckExpiry(ctx, caseIDs)
	for id, err := range res.Failed {
		m.logger.Warn("BatchCheckExpiry item failed", "caseId", id, "error", err)
	}
	m.observe(ctx, "BatchCheckExpiry", start, nil,
		"requested", len(caseIDs),
		"expired", res.Count,
		"failed", len(res.Failed),
	)
	return res
}

func (m *loggingMiddleware) GetCaseBasic(ctx context.Context, caseID uint64) (*CaseBasic, error) {
	start := time.Now()
	c, err := m.next.GetCaseBasic(ctx, caseID)
	m.logger.Debug("GetCaseBasic",
		"caseId", caseID,
		"duration", time.Since(start),
		"error", err,
	)
	return c, err
}

func (m *loggingMiddleware) GetCaseFull(ctx context.Context, caseID uint64) (*CaseFull, error) {
	start := time.Now()
	c, err := m.next.GetCaseFull(ctx, caseID)
	m.logger.Debug("GetCaseFull",
		"caseId", caseID,
		"duration", time.Since(start),
		"error", err,
	)
	return c, err
}

func (m *loggingMiddleware) GetFinders(ctx context.Context, caseID uint64) ([]string, error) {
	start := time.Now()
	finders, err := m.next.GetFinders(ctx, caseID)
	m.logger.Debug("GetFinders",
		"caseId", caseID,
		"count", len(finders),
		"duration", time.Since(start),
		"error", err,
	)
	return finders, err
}

func (m *loggingMiddleware) GetFinderCount(ctx context.Context, caseID uint64) (int, error) {
	return m.next.GetFinderCount(ctx, caseID)
}

func (m *loggingMiddleware) IsFinder(ctx context.Context, caseID uint64, account string) (bool, error) {
	return m.next.IsFinder(ctx, caseID, account)
}

func (m *loggingMiddleware) GetFinderEvidence(ctx context.Context, caseID uint64, account string) (string, error) {
	start := time.Now()
	evidence, err := m.next.GetFinderEvidence(ctx, caseID, account)
	m.logger.Debug("GetFinderEvidence",
		"caseId", caseID,
		"account", account,
		"duration", time.Since(start),
		"error", err,
	)
	return evidence, err
}

func (m *loggingMiddleware) GetFindersPaginated(ctx context.Context, caseID uint64, start, count int) ([]Finder, error) {
	began := time.Now()
	finders, err := m.next.GetFindersPaginated(ctx, caseID, start, count)
	m.logger.Debug("GetFindersPaginated",
		"caseId", caseID,
		"start", start,
		"count", count,
		"returned", len(finders),
		"duration", time.Since(began),
		"error", err,
	)
	return finders, err
}

func (m *loggingMiddleware) GetTotalCases(ctx context.Context) uint64 {
	return m.next.GetTotalCases(ctx)
}

func (m *loggingMiddleware) GetTotalEscrow(ctx context.Context) uint64 {
	return m.next.GetTotalEscrow(ctx)
}

func (m *loggingMiddleware) GetCaseEscrow(ctx context.Context, caseID uint64) (uint64, error) {
	return m.next.GetCaseEscrow(ctx, caseID)
}

func (m *loggingMiddleware) IsCaseFunded(ctx context.Context, caseID uint64) (bool, error) {
	start := time.Now()
	funded, err := m.next.IsCaseFunded(ctx, caseID)
	m.logger.Debug("IsCaseFunded",
		"caseId", caseID,
		"funded", funded,
		"duration", time.Since(start),
		"error", err,
	)
	return funded, err
}

func (m *loggingMiddleware) GetActiveCases(ctx context.Context) []uint64 {
	return m.next.GetActiveCases(ctx)
}

func (m *loggingMiddleware) GetCasesByOwner(ctx context.Context, owner string) []uint64 {
	return m.next.GetCasesByOwner(ctx, owner)
}

func (m *loggingMiddleware) DueForExpiry(ctx context.Context) []uint64 {
	return m.next.DueForExpiry(ctx)
}

func (m *loggingMiddleware) Stats(ctx context.Context) Stats {
	return m.next.Stats(ctx)
}

// isClientError reports whether err stems from the caller's request rather
// than from the ledger or an internal fault.
func isClientError(err error) bool {
	return !errors.Is(err, ErrEscrowFailed) && !errors.Is(err, ErrPayoutFailed) &&
		!errors.Is(err, ErrJournalFailed) && !errors.Is(err, ErrOverflow)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isClientError(err):
		return "rejected"
	default:
		return "failed"
	}
}
