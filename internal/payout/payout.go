package payout

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/parse"
)

var (
	// ErrSessionOpen rejects starting a second wizard while one is live for
	// the same administrator.
	ErrSessionOpen = errors.New("a payout session is already open; finish or cancel it first")
	ErrNoSession   = errors.New("no payout session open")
)

// Step is one developer to collect a confirmed amount for.
type Step struct {
	DevID     string  `json:"dev_id"`
	Handle    string  `json:"handle,omitempty"`
	Role      string  `json:"role"`
	Suggested float64 `json:"suggested"`
}

// Session is the ephemeral per-administrator wizard state. Collected grows
// in step order as amounts are confirmed.
type Session struct {
	AdminID      string    `json:"admin_id"`
	RequestID    string    `json:"request_id"`
	Currency     string    `json:"currency"`
	Steps        []Step    `json:"steps"`
	Cursor       int       `json:"cursor"`
	Collected    []float64 `json:"collected"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Done reports whether every step has a collected amount.
func (s Session) Done() bool {
	return s.Cursor >= len(s.Steps)
}

// Manager owns the live sessions, at most one per administrator. Sessions
// idle longer than the TTL are discarded on the next touch, so an abandoned
// wizard cannot block its administrator forever.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	Now      func() time.Time
}

const DefaultTTL = 30 * time.Minute

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: map[string]*Session{},
		ttl:      ttl,
		Now:      time.Now,
	}
}

// Start opens a session for the administrator over the request's role map,
// lead first, helpers in developer-id order. Suggested amounts derive from
// the true budget and each share.
func (m *Manager) Start(adminID string, req domain.Request, handles map[string]string) (Session, error) {
	if len(req.Assignments) == 0 {
		return Session{}, fmt.Errorf("request %s has no assigned developers", req.ID)
	}
	var budget float64
	currency := parse.DefaultCurrency
	if req.Budget != nil {
		budget = req.Budget.Amount
		currency = req.Budget.Currency
	}
	var steps []Step
	for _, devID := range orderedAssignees(req.Assignments) {
		a := req.Assignments[devID]
		steps = append(steps, Step{
			DevID:     devID,
			Handle:    handles[devID],
			Role:      a.Role,
			Suggested: parse.Round2(budget * float64(a.Pct) / 100),
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.expireLocked(adminID, now)
	if _, ok := m.sessions[adminID]; ok {
		return Session{}, ErrSessionOpen
	}
	s := &Session{
		AdminID:      adminID,
		RequestID:    req.ID,
		Currency:     currency,
		Steps:        steps,
		StartedAt:    now,
		LastActivity: now,
	}
	m.sessions[adminID] = s
	return *s, nil
}

// Current returns the administrator's live session.
func (m *Manager) Current(adminID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(adminID, m.Now())
	s, ok := m.sessions[adminID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Confirm records a non-negative amount for the current step and advances
// the cursor. The confirmed amount does not have to match the suggestion.
// When the final step completes the session is removed and returned with
// Done() true; committing the collected amounts is the caller's job.
func (m *Manager) Confirm(adminID string, amount float64) (Session, error) {
	if amount < 0 {
		return Session{}, fmt.Errorf("amount must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.expireLocked(adminID, now)
	s, ok := m.sessions[adminID]
	if !ok {
		return Session{}, ErrNoSession
	}
	s.Collected = append(s.Collected, parse.Round2(amount))
	s.Cursor++
	s.LastActivity = now
	if s.Done() {
		delete(m.sessions, adminID)
	}
	return *s, nil
}

// Cancel discards the administrator's session, if any. The request stays in
// its pending state until a new wizard is started.
func (m *Manager) Cancel(adminID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[adminID]; !ok {
		return false
	}
	delete(m.sessions, adminID)
	return true
}

func (m *Manager) expireLocked(adminID string, now time.Time) {
	if s, ok := m.sessions[adminID]; ok && now.Sub(s.LastActivity) > m.ttl {
		delete(m.sessions, adminID)
	}
}

func orderedAssignees(assignments map[string]domain.Assignment) []string {
	var lead string
	var helpers []string
	for id, a := range assignments {
		if a.Role == domain.RoleLead {
			lead = id
		} else {
			helpers = append(helpers, id)
		}
	}
	sort.Strings(helpers)
	var out []string
	if lead != "" {
		out = append(out, lead)
	}
	return append(out, helpers...)
}
