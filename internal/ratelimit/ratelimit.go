package ratelimit

import (
	"sync"
	"time"
)

// Gate enforces a per-submitter cooldown in front of request creation. It is
// a last-write map: only the final submission step is gated, intermediate
// dialogue steps pass freely.
type Gate struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	Now      func() time.Time
}

func New(window time.Duration) *Gate {
	return &Gate{
		window:   window,
		lastSeen: map[string]time.Time{},
		Now:      time.Now,
	}
}

// Allow reports whether the submitter may submit now. On acceptance the
// submitter's last-attempt timestamp is updated; a rejected attempt does not
// extend the cooldown.
func (g *Gate) Allow(submitterID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.Now()
	if last, ok := g.lastSeen[submitterID]; ok && now.Sub(last) < g.window {
		return false
	}
	g.lastSeen[submitterID] = now
	return true
}

// Remaining returns how long the submitter must still wait, zero if allowed.
func (g *Gate) Remaining(submitterID string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastSeen[submitterID]
	if !ok {
		return 0
	}
	left := g.window - g.Now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}
