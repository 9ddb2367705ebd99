package ratelimit

import (
	"context"
	"sync"
	"time"

	"splitmate-scan/internal/infra/metrics"
)

var _ Strategy = (*Memory)(nil)

// Memory keeps per-client request timestamps in process. It is exact for a
// single instance only.
type Memory struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	window  time.Duration
	max     int
	now     func() time.Time
}

func NewMemory(window time.Duration, maxRequests int) *Memory {
	return &Memory{
		clients: make(map[string][]time.Time),
		window:  window,
		max:     maxRequests,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Limit(ctx context.Context, clientID string) (Result, error) {
	now := m.now()
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	stamps := prune(m.clients[clientID], cutoff)
	allowed := len(stamps) < m.max
	if allowed {
		stamps = append(stamps, now)
	}
	if len(stamps) == 0 {
		delete(m.clients, clientID)
	} else {
		m.clients[clientID] = stamps
	}
	count := len(stamps)
	resetAt := now.Add(m.window)
	if count > 0 {
		resetAt = stamps[0].Add(m.window)
	}
	m.mu.Unlock()

	metrics.IncRateLimitDecision(m.Name(), allowed)
	return Result{
		Allowed:   allowed,
		Limit:     m.max,
		Remaining: max(m.max-count, 0),
		ResetAt:   resetAt,
	}, nil
}

// Sweep drops clients whose timestamps have all left the window. It returns
// the number of clients removed.
func (m *Memory) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.window)
	removed := 0
	m.mu.Lock()
	for id, stamps := range m.clients {
		stamps = prune(stamps, cutoff)
		if len(stamps) == 0 {
			delete(m.clients, id)
			removed++
			continue
		}
		m.clients[id] = stamps
	}
	m.mu.Unlock()
	return removed, nil
}

// Clients reports how many client windows are tracked.
func (m *Memory) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// prune drops timestamps at or before cutoff; stamps are in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
