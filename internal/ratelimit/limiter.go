// Package ratelimit provides per-host gates enforcing a minimum interval
// between outbound calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum spacing between successive calls. Callers serialize
// through Wait; under contention waits are released in arrival order.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewGate creates a gate releasing at most one call per interval
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait suspends until the next permitted instant and records the new
// last-call timestamp. The mutex keeps release order FIFO: x/time/rate alone
// does not promise arrival-order fairness under contention.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiter.Wait(ctx)
}

// Registry hands out one shared gate per host so adapters targeting the same
// host share a quota
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// NewRegistry creates an empty gate registry
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Gate returns the gate registered for host, creating it with interval on
// first use. The interval of an existing gate is not changed.
func (r *Registry) Gate(host string, interval time.Duration) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[host]; ok {
		return g
	}
	g := NewGate(interval)
	r.gates[host] = g
	return g
}
