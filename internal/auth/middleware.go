// Package auth resolves the calling account of a request.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pendergraft/lostpaws/internal/storage"
	"github.com/pendergraft/lostpaws/internal/validation"
)

// Auth modes
const (
	ModeNone   = "none"
	ModeAPIKey = "api-key"
)

// AccountHeader carries the caller account when no API keys are in use.
const AccountHeader = "X-Account"

// Context key type for avoiding collisions
type contextKey string

const (
	accountContextKey contextKey = "account"
	apiKeyContextKey  contextKey = "apiKey"
)

// WithAccount returns a context carrying the caller account.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext returns the caller account, or "" for anonymous requests.
func AccountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(accountContextKey).(string)
	return account
}

// GetAPIKeyFromContext retrieves the API key info from context.
func GetAPIKeyFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(apiKeyContextKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// ErrorWriter writes an error response in the API envelope.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// Identify returns middleware that attaches the caller account to the request
// context. With ModeAPIKey the account comes from a validated key; with
// ModeNone it is taken from the X-Account header. Requests without an
// identity pass through anonymously; use Require to reject them.
func Identify(mode string, store storage.APIKeyStore, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			switch mode {
			case ModeAPIKey:
				apiKey := bearerOrHeader(r)
				if apiKey == "" {
					break
				}
				key, err := store.ValidateAPIKey(ctx, apiKey)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
					return
				}
				ctx = context.WithValue(ctx, apiKeyContextKey, key)
				ctx = WithAccount(ctx, key.Account)

			default:
				account := r.Header.Get(AccountHeader)
				if account == "" {
					break
				}
				if err := validation.ValidateAccount(account); err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
					return
				}
				ctx = WithAccount(ctx, account)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require rejects requests that carry no caller account.
func Require(writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AccountFromContext(r.Context()) == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Caller account required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerOrHeader(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}
