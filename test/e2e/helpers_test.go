//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/lostpaws/internal/config"
	"github.com/pendergraft/lostpaws/internal/server"
	"github.com/pendergraft/lostpaws/internal/storage"
	"github.com/pendergraft/lostpaws/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const unit = 1_000_000

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lostpaws"),
		postgres.WithUsername("lostpaws"),
		postgres.WithPassword("lostpaws"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// e2eConfig has no cooldowns so cases can be settled immediately.
func e2eConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Auth.Type = "api-key"
	cfg.Ledger.AllowDeposit = true
	cfg.Logging = config.LoggingConfig{Level: "debug", Format: "text"}
	cfg.RateLimit.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Sweep.Enabled = false
	cfg.Bounty.MinBounty = unit
	cfg.Bounty.ResolveCooldown = 0
	cfg.Bounty.CancelCooldown = 0
	return cfg
}

// startServerE starts the lostpaws server in-process against Postgres
func startServerE(ctx context.Context, connString string) (*httptest.Server, storage.Store, error) {
	cfg := e2eConfig()
	cfg.Storage = config.StorageConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: connString},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	return httptest.NewServer(srv.Handler()), store, nil
}

// startSQLiteServer starts a private server with its own database and the
// given expiry period, for tests that depend on wall-clock deadlines.
func startSQLiteServer(t *testing.T, expiry time.Duration) (*httptest.Server, storage.Store) {
	t.Helper()
	cfg := e2eConfig()
	cfg.Storage.SQLite.Path = t.TempDir() + "/lostpaws.db"
	cfg.Bounty.ExpiryPeriod = expiry

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, err := storage.New(cfg.Storage, logger)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	srv, err := server.New(context.Background(), cfg, store, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		store.Close()
	})
	return ts, store
}

// newAccount returns a unique account with an API key and a funded balance
func newAccount(t *testing.T, ts *httptest.Server, store storage.Store, prefix string, funds uint64) (string, *client.Client) {
	t.Helper()
	account := fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
	key, err := store.CreateAPIKey(context.Background(), "e2e-"+account, account)
	require.NoError(t, err)

	c := client.New(ts.URL, key)
	if funds > 0 {
		_, err := c.Deposit(context.Background(), account, funds)
		require.NoError(t, err)
	}
	return account, c
}
