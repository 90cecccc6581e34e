// Package sweep periodically expires cases that are past their deadline.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/observability/metrics"
)

// Service is the subset of the case service the sweeper needs.
type Service interface {
	DueForExpiry(ctx context.Context) []uint64
	BatchCheckExpiry(ctx context.Context, caseIDs []uint64) domain.BatchResult
	Stats(ctx context.Context) domain.Stats
}

// Sweeper runs expiry passes on a fixed interval.
type Sweeper struct {
	svc      Service
	interval time.Duration
	logger   *slog.Logger
}

// New creates a sweeper. A non-positive interval defaults to one minute.
func New(svc Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// RunOnce expires every case currently due and returns the batch result.
func (s *Sweeper) RunOnce(ctx context.Context) domain.BatchResult {
	due := s.svc.DueForExpiry(ctx)
	if len(due) == 0 {
		s.snapshot(ctx)
		return domain.BatchResult{Expired: []uint64{}, Failed: map[uint64]error{}}
	}

	res := s.svc.BatchCheckExpiry(ctx, due)
	for id, err := range res.Failed {
		s.logger.Warn("expiry failed", "caseId", id, "error", err)
	}
	if res.Count > 0 {
		s.logger.Info("expired cases", "count", res.Count, "ids", res.Expired)
	}
	metrics.SweepExpired(res.Count)
	s.snapshot(ctx)
	return res
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		}
	}
}

// Start runs the sweeper in a goroutine. The returned function cancels it
// and waits for the loop to exit.
func (s *Sweeper) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Sweeper) snapshot(ctx context.Context) {
	st := s.svc.Stats(ctx)
	metrics.EscrowSnapshot(st.TotalEscrow, st.ActiveCases)
}
