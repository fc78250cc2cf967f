package quoteflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Quoteflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Money is a parsed budget figure.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Assignment binds a developer to a request with a revenue share.
type Assignment struct {
	Role string `json:"role"`
	Pct  int    `json:"pct"`
}

// Request represents the API request model.
type Request struct {
	ID            string                `json:"id"`
	CreatedAt     string                `json:"created_at"`
	SubmitterHash string                `json:"submitter_hash"`
	Category      string                `json:"category"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	BudgetRaw     string                `json:"budget_raw"`
	Budget        *Money                `json:"budget,omitempty"`
	VisibleBudget string                `json:"visible_budget,omitempty"`
	DeadlineRaw   string                `json:"deadline_raw"`
	DeadlineISO   *string               `json:"deadline_iso,omitempty"`
	Contact       string                `json:"contact"`
	Status        string                `json:"status"`
	StartedAt     *string               `json:"started_at,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	ThreadLink    string                `json:"thread_link,omitempty"`
	Assignments   map[string]Assignment `json:"assignments,omitempty"`
	AssigneeIDs   []string              `json:"assignee_ids"`
}

// Claim is a developer's expression of interest.
type Claim struct {
	RequestID string `json:"request_id"`
	DevID     string `json:"dev_id"`
	Handle    string `json:"handle,omitempty"`
	Name      string `json:"name,omitempty"`
	ClaimedAt string `json:"claimed_at"`
}

// PayoutStep is one wizard step.
type PayoutStep struct {
	DevID     string  `json:"dev_id"`
	Handle    string  `json:"handle,omitempty"`
	Role      string  `json:"role"`
	Suggested float64 `json:"suggested"`
}

// PayoutSession is the owner's wizard state.
type PayoutSession struct {
	RequestID string       `json:"request_id"`
	Currency  string       `json:"currency"`
	Steps     []PayoutStep `json:"steps"`
	Cursor    int          `json:"cursor"`
	Collected []float64    `json:"collected"`
	Done      bool         `json:"done"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// SubmitOptions carries the client dialogue fields for a new request.
type SubmitOptions struct {
	SubmitterName   string `json:"submitter_name,omitempty"`
	SubmitterHandle string `json:"submitter_handle,omitempty"`
	Category        string `json:"category"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Budget          string `json:"budget"`
	Deadline        string `json:"deadline"`
	Contact         string `json:"contact"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Submit creates a request.
func (c *Client) Submit(ctx context.Context, opts SubmitOptions) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", opts, &resp)
	return resp, err
}

// GetRequest fetches one request.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ActiveRequests lists the non-terminal requests.
func (c *Client) ActiveRequests(ctx context.Context) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, "v0/requests/active", nil, &resp)
	return resp, err
}

// ClaimRequest claims a request for the authenticated developer.
func (c *Client) ClaimRequest(ctx context.Context, id, handle, name string) (Claim, error) {
	body := map[string]any{"handle": handle, "name": name}
	var resp Claim
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/claims", body, &resp)
	return resp, err
}

// AssignLead assigns the lead developer at 100%.
func (c *Client) AssignLead(ctx context.Context, id, devID, eta string) (Request, error) {
	body := map[string]any{"dev_id": devID, "eta": eta}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/lead", body, &resp)
	return resp, err
}

// AddHelper adds a helper with a requested share.
func (c *Client) AddHelper(ctx context.Context, id, devID string, pct int) (Request, error) {
	body := map[string]any{"dev_id": devID, "pct": pct}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/helpers", body, &resp)
	return resp, err
}

// SetStatus overrides the request status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Request, error) {
	body := map[string]any{"status": status}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// StartPayout opens the payout wizard for a pending request.
func (c *Client) StartPayout(ctx context.Context, requestID string) (PayoutSession, error) {
	body := map[string]any{"request_id": requestID}
	var resp PayoutSession
	err := c.do(ctx, http.MethodPost, "v0/payouts", body, &resp)
	return resp, err
}

// ConfirmPayout confirms the current step. A nil amount accepts the
// suggested split.
func (c *Client) ConfirmPayout(ctx context.Context, amount *float64) (PayoutSession, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = *amount
	}
	var resp PayoutSession
	err := c.do(ctx, http.MethodPost, "v0/payouts/confirm", body, &resp)
	return resp, err
}

// Events returns recent events for a request.
func (c *Client) Events(ctx context.Context, requestID string, limit int) ([]Event, error) {
	endpoint := "v0/requests/" + url.PathEscape(requestID) + "/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
