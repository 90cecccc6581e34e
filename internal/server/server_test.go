package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/lostpaws/internal/config"
	"github.com/pendergraft/lostpaws/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "lostpaws.db")
	cfg.Metrics.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Sweep.Enabled = false
	cfg.Ledger.AllowDeposit = true
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) storage.Store {
	t.Helper()
	store, err := storage.New(cfg.Storage, discard())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, cfg *config.Config, store storage.Store) *Server {
	t.Helper()
	srv, err := New(context.Background(), cfg, store, discard())
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, h http.Handler, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	defer store.Close()
	h := newServer(t, cfg, store).Handler()

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		rec := call(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCasesSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	defer store.Close()
	bounty := cfg.Bounty.MinBounty

	h := newServer(t, cfg, store).Handler()

	rec := call(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 5 * bounty})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, "/api/v1/cases", "alice", map[string]any{"description": "tortoise named Gus", "value": 2 * bounty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = call(t, h, http.MethodPost, "/api/v1/cases/0/finders", "bob", map[string]any{"evidence": "in my garden"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// A second server on the same database replays the journal.
	h = newServer(t, cfg, store).Handler()

	rec = call(t, h, http.MethodGet, "/api/v1/cases/0/full", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var full struct {
		Owner   string   `json:"owner"`
		Bounty  uint64   `json:"bounty"`
		Finders []string `json:"finders"`
		Funded  bool     `json:"funded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	assert.Equal(t, "alice", full.Owner)
	assert.Equal(t, 2*bounty, full.Bounty)
	assert.Equal(t, []string{"bob"}, full.Finders)
	assert.True(t, full.Funded)

	rec = call(t, h, http.MethodPost, "/api/v1/cases", "alice", map[string]any{"description": "second", "value": bounty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())

	events, err := store.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	bal, err := store.AccountBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2*bounty, bal)
}

func TestDepositRouteOffByDefault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.AllowDeposit = false
	store := openStore(t, cfg)
	defer store.Close()
	h := newServer(t, cfg, store).Handler()

	rec := call(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 10})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bal, err := store.AccountBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestWriteRequiresCaller(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	defer store.Close()
	h := newServer(t, cfg, store).Handler()

	rec := call(t, h, http.MethodPost, "/api/v1/cases", "", map[string]any{"description": "x", "value": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/v1/stats", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Type = "api-key"
	store := openStore(t, cfg)
	defer store.Close()
	h := newServer(t, cfg, store).Handler()

	key, err := store.CreateAPIKey(context.Background(), "ci", "alice")
	require.NoError(t, err)

	// The X-Account header is ignored in api-key mode.
	rec := call(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 10})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/alice/deposit", bytes.NewBufferString(`{"amount":10}`))
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "lp_key_wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemoryLedgerSkipsJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Type = "memory"
	store := openStore(t, cfg)
	defer store.Close()
	h := newServer(t, cfg, store).Handler()

	rec := call(t, h, http.MethodPost, "/api/v1/accounts/alice/deposit", "alice", map[string]any{"amount": 5 * cfg.Bounty.MinBounty})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, h, http.MethodPost, "/api/v1/cases", "alice", map[string]any{"description": "ferret", "value": cfg.Bounty.MinBounty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	events, err := store.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRules(t *testing.T) {
	cfg := config.Defaults()
	rules := Rules(cfg.Bounty)
	assert.Equal(t, cfg.Bounty.MinBounty, rules.MinBounty)
	assert.Equal(t, cfg.Bounty.ExpiryPeriod, rules.DefaultExpiryPeriod)
	assert.Equal(t, cfg.Bounty.ResolveCooldown, rules.ResolveCooldown)
	assert.Equal(t, cfg.Bounty.CancelCooldown, rules.CancelCooldown)
}
