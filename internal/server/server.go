// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/lostpaws/internal/auth"
	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/cases/sweep"
	"github.com/pendergraft/lostpaws/internal/cases/transport"
	"github.com/pendergraft/lostpaws/internal/config"
	"github.com/pendergraft/lostpaws/internal/ledger"
	"github.com/pendergraft/lostpaws/internal/middleware/logging"
	"github.com/pendergraft/lostpaws/internal/middleware/ratelimit"
	"github.com/pendergraft/lostpaws/internal/notify"
	"github.com/pendergraft/lostpaws/internal/observability/metrics"
	"github.com/pendergraft/lostpaws/internal/storage"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	cases   domain.Service
	bank    transport.Bank
	sweeper *sweep.Sweeper

	stopRateLimit func()
}

// Rules converts the configured bounty settings to domain rules.
func Rules(cfg config.BountyConfig) domain.Rules {
	return domain.Rules{
		MinBounty:           cfg.MinBounty,
		DefaultExpiryPeriod: cfg.ExpiryPeriod,
		ResolveCooldown:     cfg.ResolveCooldown,
		CancelCooldown:      cfg.CancelCooldown,
	}
}

// New creates a new server. With the storage ledger the case state is
// rebuilt from the event journal and every new event is journaled; the
// memory ledger keeps cases and balances in process only.
func New(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}

	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.ServiceName)

	svc, bank, err := buildCases(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	s.cases = domain.LoggingMiddleware(logger)(svc)
	s.bank = bank
	s.sweeper = sweep.New(s.cases, cfg.Sweep.Interval, logger.With("component", "sweeper"))

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func buildCases(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (domain.Service, transport.Bank, error) {
	rules := Rules(cfg.Bounty)

	if cfg.Ledger.Type == "memory" {
		mem := ledger.NewMemory()
		svc := domain.NewService(domain.NewCaseStore(rules), ledger.Instrument(mem),
			domain.WithNotifier(notify.NewLog(logger)))
		return svc, mem, nil
	}

	durable := ledger.NewDurable(store)
	cases, lastSeq, n, err := durable.Restore(ctx, rules)
	if err != nil {
		return nil, nil, err
	}
	if n > 0 {
		logger.Info("restored cases from journal", "events", n, "cases", cases.TotalCases(), "seq", lastSeq)
	}

	svc := domain.NewService(cases, ledger.Instrument(durable),
		domain.WithSequenceStart(lastSeq),
		domain.WithJournal(durable),
		domain.WithNotifier(notify.NewLog(logger)),
	)
	return svc, durable, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Cases returns the instrumented case service.
func (s *Server) Cases() domain.Service {
	return s.cases
}

// Sweeper returns the expiry sweeper.
func (s *Server) Sweeper() *sweep.Sweeper {
	return s.sweeper
}

// StartSweeper starts background expiry if enabled. The returned function
// stops it.
func (s *Server) StartSweeper(ctx context.Context) func() {
	if !s.cfg.Sweep.Enabled {
		return func() {}
	}
	return s.sweeper.Start(ctx)
}

// Close releases background resources owned by the server.
func (s *Server) Close() {
	if s.stopRateLimit != nil {
		s.stopRateLimit()
	}
}

func (s *Server) setupMiddleware() {
	// Order matters: identity must be known before logging and rate limiting.

	// 1. Request id and client address
	s.router.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxy {
		s.router.Use(middleware.RealIP)
	}

	// 2. Panics and body size
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestSize(int64(s.cfg.Server.MaxBodyKB) * 1024))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}

	// 3. Caller identity
	s.router.Use(auth.Identify(s.cfg.Auth.Type, s.store, transport.WriteError))

	// 4. Logging and metrics
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)

	// 5. Rate limiting per caller (bypasses health checks)
	limit, stop := ratelimit.Middleware(ratelimit.Config{
		Enabled:             s.cfg.RateLimit.Enabled,
		RequestsPerMin:      s.cfg.RateLimit.RequestsPerMin,
		WriteRequestsPerMin: s.cfg.RateLimit.WriteRequestsPerMin,
		BurstSize:           s.cfg.RateLimit.BurstSize,
		CleanupMinutes:      s.cfg.RateLimit.CleanupMinutes,
	})
	s.router.Use(limit)
	s.stopRateLimit = stop

	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Account")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if metrics.Enabled() {
		s.router.Handle("/metrics", metrics.Handler())
	}

	var opts []transport.Option
	if s.cfg.Ledger.AllowDeposit {
		opts = append(opts, transport.WithDeposits())
	}
	casesHandler := transport.NewHandler(s.cases, s.bank, opts...)

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Read operations - anonymous callers allowed
		casesHandler.RegisterReadRoutes(r)

		// Write operations - caller account required
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(transport.WriteError))
			casesHandler.RegisterWriteRoutes(r)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness also checks the database
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		transport.WriteError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
