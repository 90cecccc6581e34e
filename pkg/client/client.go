// Package client provides a Go client for the Lostpaws API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a Lostpaws API client
type Client struct {
	baseURL    string
	apiKey     string
	account    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithAccount sends account in the X-Account header, for servers running
// without API keys.
func WithAccount(account string) Option {
	return func(client *Client) {
		client.account = account
	}
}

// New creates a new Lostpaws client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Case is the summary view of a case
type Case struct {
	ID          uint64    `json:"id"`
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	Bounty      uint64    `json:"bounty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// CaseFull is a case with its finder list
type CaseFull struct {
	Case
	FinderCount int      `json:"finderCount"`
	Finders     []string `json:"finders"`
	Funded      bool     `json:"funded"`
}

// Finder is one finder submission
type Finder struct {
	Index       int       `json:"index"`
	Account     string    `json:"account"`
	Evidence    string    `json:"evidence"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// FindersPage is a page of finders
type FindersPage struct {
	Data       []Finder   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Start   int  `json:"start"`
	Count   int  `json:"count"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// Escrow is the escrow state of a case
type Escrow struct {
	ID     uint64 `json:"id"`
	Escrow uint64 `json:"escrow"`
	Funded bool   `json:"funded"`
}

// BatchResult is the outcome of a batch expiry pass. Failed maps case ids
// to error messages.
type BatchResult struct {
	Count   int               `json:"count"`
	Expired []uint64          `json:"expired"`
	Failed  map[string]string `json:"failed"`
}

// Stats holds global aggregates
type Stats struct {
	TotalCases  uint64 `json:"totalCases"`
	ActiveCases int    `json:"activeCases"`
	TotalEscrow uint64 `json:"totalEscrow"`
}

// Account is a ledger account balance
type Account struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateCase opens a case escrowing value from the caller
func (c *Client) CreateCase(ctx context.Context, description string, value uint64) (uint64, error) {
	var resp struct {
		ID uint64 `json:"id"`
	}
	err := c.post(ctx, "/api/v1/cases", map[string]any{"description": description, "value": value}, &resp)
	return resp.ID, err
}

// IncreaseBounty adds value to an active case
func (c *Client) IncreaseBounty(ctx context.Context, id, value uint64) (*Escrow, error) {
	var resp Escrow
	if err := c.post(ctx, casePath(id, "bounty"), map[string]any{"value": value}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitFinder records the caller as a finder and returns its index
func (c *Client) SubmitFinder(ctx context.Context, id uint64, evidence string) (int, error) {
	var resp struct {
		Index int `json:"index"`
	}
	err := c.post(ctx, casePath(id, "finders"), map[string]any{"evidence": evidence}, &resp)
	return resp.Index, err
}

// ResolveCase pays the bounty to the finder at finderIndex
func (c *Client) ResolveCase(ctx context.Context, id uint64, finderIndex int) (*Case, error) {
	var resp Case
	if err := c.post(ctx, casePath(id, "resolve"), map[string]any{"finderIndex": finderIndex}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelCase refunds an unclaimed case to its owner
func (c *Client) CancelCase(ctx context.Context, id uint64) (*Case, error) {
	var resp Case
	if err := c.post(ctx, casePath(id, "cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckExpiry expires a case if its deadline has passed
func (c *Client) CheckExpiry(ctx context.Context, id uint64) (bool, error) {
	var resp struct {
		Expired bool `json:"expired"`
	}
	err := c.post(ctx, casePath(id, "expire"), nil, &resp)
	return resp.Expired, err
}

// BatchExpire runs an expiry pass over ids
func (c *Client) BatchExpire(ctx context.Context, ids []uint64) (*BatchResult, error) {
	var resp BatchResult
	if err := c.post(ctx, "/api/v1/cases/expire", map[string]any{"ids": ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCase gets the summary view of a case
func (c *Client) GetCase(ctx context.Context, id uint64) (*Case, error) {
	var resp Case
	if err := c.get(ctx, casePath(id, ""), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCaseFull gets a case with its finders
func (c *Client) GetCaseFull(ctx context.Context, id uint64) (*CaseFull, error) {
	var resp CaseFull
	if err := c.get(ctx, casePath(id, "full"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFinders gets a page of finders
func (c *Client) GetFinders(ctx context.Context, id uint64, start, count int) (*FindersPage, error) {
	q := url.Values{}
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(count))

	var resp FindersPage
	if err := c.get(ctx, casePath(id, "finders")+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFinderCount gets the number of finders of a case
func (c *Client) GetFinderCount(ctx context.Context, id uint64) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.get(ctx, casePath(id, "finders/count"), &resp)
	return resp.Count, err
}

// GetFinderEvidence gets the evidence submitted by account
func (c *Client) GetFinderEvidence(ctx context.Context, id uint64, account string) (string, error) {
	var resp struct {
		Evidence string `json:"evidence"`
	}
	err := c.get(ctx, casePath(id, "finders/"+url.PathEscape(account)), &resp)
	return resp.Evidence, err
}

// GetEscrow gets the escrow state of a case
func (c *Client) GetEscrow(ctx context.Context, id uint64) (*Escrow, error) {
	var resp Escrow
	if err := c.get(ctx, casePath(id, "escrow"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCasesByOwner lists the case ids created by owner
func (c *Client) ListCasesByOwner(ctx context.Context, owner string) ([]uint64, error) {
	return c.listCases(ctx, url.Values{"owner": {owner}})
}

// ListActiveCases lists the ids of active, unexpired cases
func (c *Client) ListActiveCases(ctx context.Context) ([]uint64, error) {
	return c.listCases(ctx, url.Values{"active": {"true"}})
}

// ListDueCases lists the ids of active cases past their deadline
func (c *Client) ListDueCases(ctx context.Context) ([]uint64, error) {
	return c.listCases(ctx, url.Values{"due": {"true"}})
}

func (c *Client) listCases(ctx context.Context, q url.Values) ([]uint64, error) {
	var resp struct {
		Data []uint64 `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/cases?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Stats gets global aggregates
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.get(ctx, "/api/v1/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deposit credits amount to account
func (c *Client) Deposit(ctx context.Context, account string, amount uint64) (*Account, error) {
	var resp Account
	if err := c.post(ctx, "/api/v1/accounts/"+url.PathEscape(account)+"/deposit", map[string]any{"amount": amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance gets the balance of account
func (c *Client) Balance(ctx context.Context, account string) (*Account, error) {
	var resp Account
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(account), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func casePath(id uint64, suffix string) string {
	p := "/api/v1/cases/" + strconv.FormatUint(id, 10)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
