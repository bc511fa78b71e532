// Package gate bounds the number of concurrent outbound calls.
package gate

import (
	"context"
	"sync"
)

// Gate admits up to maxInflight holders at once and queues up to maxWait more
// in FIFO order.
type Gate struct {
	maxInflight int
	maxWait     int

	mu       sync.Mutex
	inflight int
	queue    []*Reservation
}

// New creates a Gate.
func New(maxInflight, maxWait int) *Gate {
	return &Gate{
		maxInflight: maxInflight,
		maxWait:     maxWait,
	}
}

// Reserve attempts to obtain a reservation. If the wait queue is full, it
// returns false.
func (g *Gate) Reserve() (*Reservation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Grant immediately.
	if g.inflight < g.maxInflight {
		g.inflight++
		return &Reservation{
			g:    g,
			held: true,
		}, true
	}

	if len(g.queue) >= g.maxWait {
		return nil, false
	}

	// Grant later.
	r := &Reservation{
		g:       g,
		granted: make(chan struct{}),
	}
	g.queue = append(g.queue, r)
	return r, true
}

// Inflight reports the number of granted, unreleased reservations and the
// number of queued ones.
func (g *Gate) Inflight() (inflight, waiting int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight, len(g.queue)
}

func (g *Gate) release(r *Reservation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.released {
		return
	}
	r.released = true

	if !r.held {
		// Never granted: leave the queue without touching the slot count.
		for i, q := range g.queue {
			if q == r {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				break
			}
		}
		return
	}

	if len(g.queue) == 0 {
		g.inflight--
		return
	}

	// Hand the slot over to the oldest waiter.
	next := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	next.held = true
	close(next.granted)
}

// Reservation represents a reservation.
type Reservation struct {
	g       *Gate
	granted chan struct{}

	// Guarded by g.mu.
	held     bool
	released bool
}

// Wait blocks until the reservation is granted or ctx is done. In the latter
// case it returns ctx.Err() and the reservation must still be released.
func (r *Reservation) Wait(ctx context.Context) error {
	if r.granted == nil {
		return nil
	}
	select {
	case <-r.granted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the reservation. It must be called once the
// reservation is no longer needed, whether or not Wait succeeded. Extra calls
// are no-ops.
func (r *Reservation) Release() {
	r.g.release(r)
}

func (r *Reservation) isGranted() bool {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	return r.held
}
