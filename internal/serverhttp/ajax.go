package serverhttp

import (
	"context"
	"sync"
)

// Endpoint is a server-side named long-poll subscription point: any
// number of pending GET requests hang on Wait until Update is called,
// at which point every currently pending waiter receives the payload
// and the endpoint goes quiescent again (spec.md §3, "AJAX endpoint").
// New subscribers arriving after the notification instant do not
// receive it retroactively.
type Endpoint struct {
	mu      sync.Mutex
	waiters []chan any
}

// NewEndpoint constructs a quiescent endpoint.
func NewEndpoint() *Endpoint { return &Endpoint{} }

// Wait blocks until Update is called or ctx is done, whichever comes
// first.
func (e *Endpoint) Wait(ctx context.Context) (any, error) {
	ch := make(chan any, 1)
	e.mu.Lock()
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		e.removeWaiter(ch)
		return nil, ctx.Err()
	}
}

func (e *Endpoint) removeWaiter(target chan any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ch := range e.waiters {
		if ch == target {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

// Update flushes payload to every currently pending waiter, then
// returns the endpoint to quiescence.
func (e *Endpoint) Update(payload any) {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- payload
	}
}

// PendingCount reports how many waiters are currently blocked on Wait.
// Exposed for tests and diagnostics.
func (e *Endpoint) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

// registry names AJAX endpoints so handlers can share one by pattern
// or key without the caller threading a reference through by hand.
type registry struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func newRegistry() *registry { return &registry{endpoints: make(map[string]*Endpoint)} }

// Named returns the endpoint for key, creating it on first use.
func (r *registry) Named(key string) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[key]
	if !ok {
		e = NewEndpoint()
		r.endpoints[key] = e
	}
	return e
}

// AJAX returns the server's AJAX endpoint named key, creating it on
// first use.
func (s *Server) AJAX(key string) *Endpoint { return s.ajax.Named(key) }
