package server

import (
	"encoding/json"

	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/ledger"
	"quoteflow/internal/parse"
	"quoteflow/internal/payout"
)

// Request payloads

type SubmitRequest struct {
	SubmitterID     *string `json:"submitter_id,omitempty"`
	SubmitterName   string  `json:"submitter_name,omitempty"`
	SubmitterHandle string  `json:"submitter_handle,omitempty"`
	Category        string  `json:"category"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Budget          string  `json:"budget"`
	Deadline        string  `json:"deadline"`
	Contact         string  `json:"contact"`
}

type ClaimRequest struct {
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
}

type AssignLeadRequest struct {
	DevID string `json:"dev_id"`
	ETA   string `json:"eta,omitempty"`
}

type AddHelperRequest struct {
	DevID string `json:"dev_id"`
	Pct   int    `json:"pct" minimum:"0" maximum:"100"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"new,in_progress,completed_pending,canceled"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type ProgressRequest struct {
	Pct int `json:"pct" minimum:"0" maximum:"100"`
}

type StartPayoutRequest struct {
	RequestID string `json:"request_id"`
}

type ConfirmPayoutRequest struct {
	// Amount overrides the suggested split for the current step. Omitted
	// means "accept the suggestion".
	Amount *float64 `json:"amount,omitempty" minimum:"0"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type RequestResponse struct {
	ID            string                       `json:"id"`
	CreatedAt     string                       `json:"created_at" format:"date-time"`
	SubmitterHash string                       `json:"submitter_hash"`
	Category      string                       `json:"category"`
	Title         string                       `json:"title"`
	Description   string                       `json:"description"`
	BudgetRaw     string                       `json:"budget_raw"`
	Budget        *domain.Money                `json:"budget,omitempty"`
	VisibleBudget string                       `json:"visible_budget,omitempty"`
	DeadlineRaw   string                       `json:"deadline_raw"`
	DeadlineISO   *string                      `json:"deadline_iso,omitempty" format:"date"`
	Contact       string                       `json:"contact"`
	Status        string                       `json:"status" enum:"new,in_progress,completed_pending,completed_confirmed,canceled"`
	StartedAt     *string                      `json:"started_at,omitempty" format:"date-time"`
	Notes         string                       `json:"notes,omitempty"`
	ThreadID      string                       `json:"thread_id,omitempty"`
	ThreadLink    string                       `json:"thread_link,omitempty"`
	Assignments   map[string]domain.Assignment `json:"assignments,omitempty"`
	AssigneeIDs   []string                     `json:"assignee_ids"`
}

type ClaimResponse struct {
	RequestID string `json:"request_id"`
	DevID     string `json:"dev_id"`
	Handle    string `json:"handle,omitempty"`
	Name      string `json:"name,omitempty"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
}

type PayoutStepResponse struct {
	DevID     string  `json:"dev_id"`
	Handle    string  `json:"handle,omitempty"`
	Role      string  `json:"role" enum:"lead,helper"`
	Suggested float64 `json:"suggested"`
}

type PayoutSessionResponse struct {
	RequestID string               `json:"request_id"`
	Currency  string               `json:"currency"`
	Steps     []PayoutStepResponse `json:"steps"`
	Cursor    int                  `json:"cursor"`
	Collected []float64            `json:"collected"`
	Done      bool                 `json:"done"`
}

type TotalResponse struct {
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type DeveloperSummaryResponse struct {
	DevID     string                   `json:"dev_id"`
	Active    []RequestResponse        `json:"active"`
	Confirmed map[string]TotalResponse `json:"confirmed"`
}

type FundsResponse struct {
	WindowDays int                      `json:"window_days"`
	Totals     map[string]TotalResponse `json:"totals"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is the plaintext secret, returned exactly once on creation.
	Key string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Admin   bool   `json:"admin"`
	Owner   bool   `json:"owner"`
	Source  string `json:"source"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

// requestResponse renders a request for the wire. The true budget is shown
// to administrators only; everyone else gets the reduced visible figure.
func requestResponse(r domain.Request, admin bool) RequestResponse {
	visible := ""
	if r.Budget != nil {
		visible = parse.VisibleBudget(*r.Budget)
	}
	if !admin {
		r.Budget = nil
		r.BudgetRaw = ""
	}
	return RequestResponse{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		SubmitterHash: r.SubmitterHash,
		Category:      r.Category,
		Title:         r.Title,
		Description:   r.Description,
		BudgetRaw:     r.BudgetRaw,
		Budget:        r.Budget,
		VisibleBudget: visible,
		DeadlineRaw:   r.DeadlineRaw,
		DeadlineISO:   r.DeadlineISO,
		Contact:       r.Contact,
		Status:        r.Status,
		StartedAt:     r.StartedAt,
		Notes:         r.Notes,
		ThreadID:      r.ThreadID,
		ThreadLink:    r.ThreadLink,
		Assignments:   r.Assignments,
		AssigneeIDs:   nonNilSlice(r.Assignees()),
	}
}

func mapRequests(in []domain.Request, admin bool) []RequestResponse {
	out := make([]RequestResponse, 0, len(in))
	for _, r := range in {
		out = append(out, requestResponse(r, admin))
	}
	return out
}

func claimResponse(c domain.Claim) ClaimResponse {
	return ClaimResponse(c)
}

func sessionResponse(s payout.Session) PayoutSessionResponse {
	steps := make([]PayoutStepResponse, 0, len(s.Steps))
	for _, st := range s.Steps {
		steps = append(steps, PayoutStepResponse(st))
	}
	return PayoutSessionResponse{
		RequestID: s.RequestID,
		Currency:  s.Currency,
		Steps:     steps,
		Cursor:    s.Cursor,
		Collected: nonNilSlice(s.Collected),
		Done:      s.Done(),
	}
}

func totalsResponse(in map[string]ledger.Total) map[string]TotalResponse {
	out := make(map[string]TotalResponse, len(in))
	for cur, t := range in {
		out[cur] = TotalResponse(t)
	}
	return out
}

func summaryResponse(s engine.DeveloperSummary, admin bool) DeveloperSummaryResponse {
	return DeveloperSummaryResponse{
		DevID:     s.DevID,
		Active:    mapRequests(s.Active, admin),
		Confirmed: totalsResponse(s.Confirmed),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RequestID:  e.RequestID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
