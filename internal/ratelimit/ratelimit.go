// Package ratelimit implements a fixed-window per-client request limiter.
// The window resets wholesale at its boundary, matching the limiter the API
// consumers were written against.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per client key within a fixed window.
type Limiter struct {
	windowSize time.Duration
	max        int

	mu      sync.Mutex
	clients map[string]*window
	now     func() time.Time
}

// New creates a Limiter allowing max requests per windowSize per client.
func New(windowSize time.Duration, max int) *Limiter {
	return &Limiter{
		windowSize: windowSize,
		max:        max,
		clients:    make(map[string]*window),
		now:        time.Now,
	}
}

// Allow reports whether the client may proceed and records the request.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[client]
	if !ok || now.Sub(w.start) >= l.windowSize {
		l.sweep(now)
		l.clients[client] = &window{start: now, count: 1}
		return true
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// sweep drops expired windows so the client map cannot grow without bound.
// Called with the lock held, only when a client rolls into a new window.
func (l *Limiter) sweep(now time.Time) {
	for client, w := range l.clients {
		if now.Sub(w.start) >= l.windowSize {
			delete(l.clients, client)
		}
	}
}
