package index

import (
	"errors"
	"sort"
	"sync"

	"quoteflow/internal/domain"
)

var ErrNotFound = errors.New("request not in index")

// Store is the authoritative in-memory map of live request state, richer
// than the persisted log row. Requests are guarded individually: Update
// serializes read-modify-write sequences per request id so the
// percentage-sum and single-lead invariants hold under concurrent actors.
// The claim registry lives here too; claims are never removed.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*entry
	claims   map[string]map[string]domain.Claim
}

type entry struct {
	mu  sync.Mutex
	req domain.Request
}

func New() *Store {
	return &Store{
		requests: map[string]*entry{},
		claims:   map[string]map[string]domain.Claim{},
	}
}

// Put inserts or replaces a request.
func (s *Store) Put(req domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.requests[req.ID]; ok {
		e.mu.Lock()
		e.req = clone(req)
		e.mu.Unlock()
		return
	}
	s.requests[req.ID] = &entry{req: clone(req)}
}

// Get returns a copy of the live request.
func (s *Store) Get(id string) (domain.Request, bool) {
	s.mu.RLock()
	e, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Request{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.req), true
}

// Update runs fn against a copy of the request under its lock. The copy
// replaces the stored request only when fn returns nil.
func (s *Store) Update(id string, fn func(*domain.Request) error) (domain.Request, error) {
	s.mu.RLock()
	e, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Request{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	work := clone(e.req)
	if err := fn(&work); err != nil {
		return clone(e.req), err
	}
	e.req = work
	return clone(work), nil
}

// List returns copies of all live requests, oldest first.
func (s *Store) List() []domain.Request {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.requests))
	for _, e := range s.requests {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	out := make([]domain.Request, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, clone(e.req))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// PutClaim records or refreshes a claim, idempotently.
func (s *Store) PutClaim(c domain.Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDev, ok := s.claims[c.RequestID]
	if !ok {
		byDev = map[string]domain.Claim{}
		s.claims[c.RequestID] = byDev
	}
	byDev[c.DevID] = c
}

// Claims returns all claims on a request ordered by claim time.
func (s *Store) Claims(requestID string) []domain.Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDev := s.claims[requestID]
	out := make([]domain.Claim, 0, len(byDev))
	for _, c := range byDev {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimedAt == out[j].ClaimedAt {
			return out[i].DevID < out[j].DevID
		}
		return out[i].ClaimedAt < out[j].ClaimedAt
	})
	return out
}

// Claim looks up one developer's claim on a request.
func (s *Store) Claim(requestID, devID string) (domain.Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[requestID][devID]
	return c, ok
}

func clone(r domain.Request) domain.Request {
	out := r
	if r.Assignments != nil {
		out.Assignments = make(map[string]domain.Assignment, len(r.Assignments))
		for k, v := range r.Assignments {
			out.Assignments[k] = v
		}
	}
	if r.AssigneeIDs != nil {
		out.AssigneeIDs = append([]string(nil), r.AssigneeIDs...)
	}
	return out
}
