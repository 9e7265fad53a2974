// Package singleflight collapses concurrent duplicate provider calls for
// the same idempotency key into one underlying call. The first caller for
// a key becomes the leader and runs the function; callers arriving while
// the leader is in flight wait for the leader's outcome and share it.
package singleflight

import (
	"context"
	"sync"
)

// Result is what a gated call produced, shared by leader and followers.
type Result struct {
	Value  interface{}
	Err    error
	Shared bool
}

type call struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Gate serializes in-flight calls per key. Safe for concurrent use.
type Gate struct {
	mu    sync.Mutex
	calls map[string]*call
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{calls: make(map[string]*call)}
}

// Do executes fn for the key, ensuring at most one execution is in flight
// per key at a time. Followers block until the leader finishes or their
// context is cancelled; context cancellation never cancels the leader's
// call, only the follower's wait. The entry is removed once the leader
// completes so memory stays bounded by the number of in-flight keys.
func (g *Gate) Do(ctx context.Context, key string, fn func() (interface{}, error)) (Result, error) {
	g.mu.Lock()
	if existing, ok := g.calls[key]; ok {
		g.mu.Unlock()

		select {
		case <-existing.done:
			return Result{Value: existing.value, Err: existing.err, Shared: true}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.value, c.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(c.done)

	return Result{Value: c.value, Err: c.err}, nil
}

// InFlight reports how many keys currently have a leader running.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
