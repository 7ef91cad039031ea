// Package syscon arbitrates access to the single administrative backend
// connection. The arbitrator is a queue of capacity one holding the
// connection itself: acquire dequeues, release enqueues. There is never
// more than one handle in existence, so concurrent use of the connection
// is structurally unrepresentable.
package syscon

import (
	"context"
	"sync"

	"github.com/helixdb/helix/backend"
)

// Arbitrator grants exclusive, FIFO-fair access to the system connection.
type Arbitrator struct {
	mu      sync.Mutex
	conn    backend.SysConn
	free    bool
	waiters []chan backend.SysConn
	closed  bool
}

// New seeds the arbitrator with the system connection.
func New(conn backend.SysConn) *Arbitrator {
	return &Arbitrator{conn: conn, free: true}
}

// Acquire suspends the caller until the connection is available. Waiters
// are served strictly first-come first-served. A waiter abandoned through
// ctx leaves the queue serving the rest.
//
// Acquiring after Close is a programming error and panics.
func (a *Arbitrator) Acquire(ctx context.Context) (backend.SysConn, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		panic("syscon: Acquire on a torn-down arbitrator")
	}
	if a.free {
		a.free = false
		conn := a.conn
		a.mu.Unlock()
		return conn, nil
	}
	w := make(chan backend.SysConn, 1)
	a.waiters = append(a.waiters, w)
	a.mu.Unlock()

	waitingGauge.Inc()
	defer waitingGauge.Dec()

	select {
	case conn, ok := <-w:
		if !ok {
			panic("syscon: Acquire on a torn-down arbitrator")
		}
		return conn, nil
	case <-ctx.Done():
		a.mu.Lock()
		for i, q := range a.waiters {
			if q == w {
				a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
				a.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		// Not queued anymore: the connection was granted concurrently
		// with the cancellation. Hand it straight to the next waiter.
		a.releaseLocked()
		a.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns the connection to the slot, waking the next waiter if
// any. Every acquirer must release on all exit paths.
func (a *Arbitrator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.releaseLocked()
}

// releaseLocked passes the connection to the head waiter, or marks the
// slot free. Waiter channels are buffered, so sending under the lock
// never blocks.
func (a *Arbitrator) releaseLocked() {
	if len(a.waiters) > 0 {
		w := a.waiters[0]
		a.waiters = a.waiters[1:]
		w <- a.conn
		return
	}
	a.free = true
}

// Close tears down the arbitrator and returns the connection for the
// caller to terminate. Pending waiters panic, as will any later Acquire:
// acquiring after teardown is a bug in the caller, not a recoverable
// condition.
func (a *Arbitrator) Close() backend.SysConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	conn := a.conn
	a.conn = nil
	for _, w := range a.waiters {
		close(w)
	}
	a.waiters = nil
	return conn
}

// With acquires the connection, runs fn and releases on every exit path.
func (a *Arbitrator) With(ctx context.Context, fn func(conn backend.SysConn) error) error {
	conn, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	defer a.Release()
	return fn(conn)
}
