// Package transport provides HTTP handlers for the cases domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/lostpaws/internal/auth"
	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/storage"
	"github.com/pendergraft/lostpaws/internal/validation"
)

// Bank exposes account funding for ledgers that hold balances.
type Bank interface {
	Deposit(ctx context.Context, account string, amount uint64) error
	AccountBalance(ctx context.Context, account string) (uint64, error)
}

// Handler handles HTTP requests for cases.
type Handler struct {
	svc      domain.Service
	bank     Bank
	deposits bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithDeposits registers the deposit route. Callers may only credit their
// own account.
func WithDeposits() Option {
	return func(h *Handler) {
		h.deposits = true
	}
}

// NewHandler creates a new cases HTTP handler. bank may be nil, in which case
// the account routes are not registered.
func NewHandler(svc domain.Service, bank Bank, opts ...Option) *Handler {
	h := &Handler{svc: svc, bank: bank}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterReadRoutes registers read-only routes (no caller required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/cases", h.handleList)
	r.Get("/cases/{id}", h.handleGet)
	r.Get("/cases/{id}/full", h.handleGetFull)
	r.Get("/cases/{id}/finders", h.handleFinders)
	r.Get("/cases/{id}/finders/count", h.handleFinderCount)
	r.Get("/cases/{id}/finders/{account}", h.handleFinderEvidence)
	r.Get("/cases/{id}/escrow", h.handleEscrow)
	r.Get("/stats", h.handleStats)
	if h.bank != nil {
		r.Get("/accounts/{account}", h.handleAccount)
	}
}

// RegisterWriteRoutes registers mutating routes (caller required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/cases", h.handleCreate)
	r.Post("/cases/expire", h.handleBatchExpire)
	r.Post("/cases/{id}/bounty", h.handleIncreaseBounty)
	r.Post("/cases/{id}/finders", h.handleSubmitFinder)
	r.Post("/cases/{id}/resolve", h.handleResolve)
	r.Post("/cases/{id}/cancel", h.handleCancel)
	r.Post("/cases/{id}/expire", h.handleExpire)
	if h.bank != nil && h.deposits {
		r.Post("/accounts/{account}/deposit", h.handleDeposit)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateDescription(req.Description); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	id, err := h.svc.CreateCase(r.Context(), caller(r), req.Description, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateCaseResponse{ID: id})
}

func (h *Handler) handleIncreaseBounty(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req IncreaseBountyRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.IncreaseBounty(r.Context(), caller(r), id, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeEscrow(w, r, id)
}

func (h *Handler) handleSubmitFinder(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req SubmitFinderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateEvidence(req.Evidence); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if err := h.svc.SubmitFinder(r.Context(), caller(r), id, req.Evidence); err != nil {
		writeDomainError(w, err)
		return
	}
	count, err := h.svc.GetFinderCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    id,
		"index": count - 1,
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FinderIndex == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "finderIndex is required")
		return
	}

	if err := h.svc.ResolveCase(r.Context(), caller(r), id, *req.FinderIndex); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeCase(w, r, id)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelCase(r.Context(), caller(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeCase(w, r, id)
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	expired, err := h.svc.CheckAndProcessExpiry(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{ID: id, Expired: expired})
}

func (h *Handler) handleBatchExpire(w http.ResponseWriter, r *http.Request) {
	var req BatchExpireRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) > validation.MaxPageSize {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "too many ids (max "+strconv.Itoa(validation.MaxPageSize)+")")
		return
	}

	res := h.svc.BatchCheckExpiry(r.Context(), req.IDs)
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []uint64
	switch {
	case q.Get("owner") != "":
		owner := q.Get("owner")
		if err := validation.ValidateAccount(owner); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		ids = h.svc.GetCasesByOwner(r.Context(), owner)
	case q.Get("active") == "true":
		ids = h.svc.GetActiveCases(r.Context())
	case q.Get("due") == "true":
		ids = h.svc.DueForExpiry(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "one of owner, active=true or due=true is required")
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, CaseListResponse{Data: ids})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	h.writeCase(w, r, id)
}

func (h *Handler) handleGetFull(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCaseFull(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleFinders(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	start, err := queryInt(r, "start", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	count, err := queryInt(r, "count", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if err := validation.ValidatePage(start, count); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	page, err := h.svc.GetFindersPaginated(r.Context(), id, start, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := h.svc.GetFinderCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := make([]FinderItem, len(page))
	for i, f := range page {
		data[i] = FinderItem{
			Index:       start + i,
			Account:     f.Account,
			Evidence:    f.Evidence,
			SubmittedAt: f.SubmittedAt,
		}
	}
	writeJSON(w, http.StatusOK, FinderListResponse{
		Data: data,
		Pagination: Pagination{
			Start: start,
			Count: len(data),
			Total: total,
			More:  start+len(data) < total,
		},
	})
}

func (h *Handler) handleFinderCount(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	count, err := h.svc.GetFinderCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "count": count})
}

func (h *Handler) handleFinderEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	account := chi.URLParam(r, "account")
	if err := validation.ValidateAccount(account); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	evidence, err := h.svc.GetFinderEvidence(r.Context(), id, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FinderEvidenceResponse{Account: account, Evidence: evidence})
}

func (h *Handler) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	h.writeEscrow(w, r, id)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	balance, err := h.bank.AccountBalance(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account, Balance: balance})
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	if account != caller(r) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Deposits may only credit the caller's own account")
		return
	}
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "amount must be positive")
		return
	}

	if err := h.bank.Deposit(r.Context(), account, req.Amount); err != nil {
		switch {
		case errors.Is(err, storage.ErrBalanceOverflow), errors.Is(err, storage.ErrAmountOutOfRange):
			writeError(w, http.StatusBadRequest, "OVERFLOW", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to deposit")
		}
		return
	}
	balance, err := h.bank.AccountBalance(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account, Balance: balance})
}

func (h *Handler) writeCase(w http.ResponseWriter, r *http.Request, id uint64) {
	c, err := h.svc.GetCaseBasic(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) writeEscrow(w http.ResponseWriter, r *http.Request, id uint64) {
	escrow, err := h.svc.GetCaseEscrow(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	funded, err := h.svc.IsCaseFunded(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EscrowResponse{ID: id, Escrow: escrow, Funded: funded})
}

// errorCodes maps domain sentinels to HTTP status and error code. Order
// matters: more specific errors come first.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrFinderNotFound, http.StatusNotFound, "FINDER_NOT_FOUND"},
	{domain.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrInsufficientValue, http.StatusBadRequest, "INSUFFICIENT_VALUE"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
	{domain.ErrInvalidIndex, http.StatusBadRequest, "INVALID_INDEX"},
	{domain.ErrOverflow, http.StatusBadRequest, "OVERFLOW"},
	{domain.ErrExpired, http.StatusConflict, "EXPIRED"},
	{domain.ErrTooNew, http.StatusConflict, "TOO_NEW"},
	{domain.ErrAlreadySubmitted, http.StatusConflict, "ALREADY_SUBMITTED"},
	{domain.ErrFindersExist, http.StatusConflict, "FINDERS_EXIST"},
	{domain.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{domain.ErrInsufficientEscrow, http.StatusConflict, "INSUFFICIENT_ESCROW"},
	{domain.ErrEscrowFailed, http.StatusBadGateway, "ESCROW_FAILED"},
	{domain.ErrPayoutFailed, http.StatusBadGateway, "PAYOUT_FAILED"},
	{domain.ErrJournalFailed, http.StatusServiceUnavailable, "JOURNAL_FAILED"},
}

func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrEscrowFailed) && errors.Is(err, storage.ErrInsufficientFunds) {
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error())
		return
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}

// Helper functions

func caller(r *http.Request) string {
	return auth.AccountFromContext(r.Context())
}

func caseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid case id")
		return 0, false
	}
	return id, true
}

func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := chi.URLParam(r, "account")
	if err := validation.ValidateAccount(account); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return "", false
	}
	return account, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an error in the API envelope. It is shared with the
// server for middleware failures.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, code, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
