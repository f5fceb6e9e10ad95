/*
Package once provides Gate, an exactly-once initialization gate for lazy setup
that can fail. It is a replacement for sync.Once when the initializer returns
an error: a failed initialization resets the gate so a later caller can retry,
where sync.Once would latch shut on the first attempt no matter the outcome.

Basic use for lazily constructing an expensive resource:

	type Client struct {
		gate once.Gate
		conn *grpc.ClientConn
	}

	func (c *Client) connect() error {
		return c.gate.Do(func() error {
			conn, err := grpc.Dial(addr)
			if err != nil {
				return err
			}
			c.conn = conn
			return nil
		})
	}

Every caller of connect() can simply call it before use. Exactly one caller
pays for the dial, concurrent callers block until it completes, and later
callers return immediately. If the dial fails, only the caller that ran it
sees the error and the next call tries again.

The gate exists to remove the temptation of the double-checked locking
pattern: do not put your own unsynchronized "is it initialized yet?" read in
front of Do(). That read is the bug this type eliminates. Do() already has a
properly synchronized fast path for the completed case.
*/
package once

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Gate is an exactly-once execution gate. The zero value is ready for use.
// A Gate must not be copied after first use.
type Gate struct {
	done atomic.Bool
	mu   sync.Mutex

	noCopy noCopy // Flag govet to prevent copying
}

// Do runs init if no prior call to Do on this gate has completed
// successfully. Concurrent callers block until the running init returns.
// If init returns an error, that error is returned to this caller only and
// the gate stays open so a later call can retry. Once a call succeeds, all
// current and future calls return nil without running init, and they observe
// every side effect of the one successful execution.
func (g *Gate) Do(init func() error) error {
	if init == nil {
		return fmt.Errorf("cannot call Do with a nil initializer")
	}

	if g.done.Load() {
		return nil
	}

	// Losers of the race park here until the winner finishes. That makes the
	// "in progress" state of the gate simply "mu is held".
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done.Load() {
		return nil
	}

	if err := init(); err != nil {
		return err
	}
	g.done.Store(true)
	return nil
}

// Done reports if a call to Do has completed successfully. This is a
// point-in-time snapshot: a false answer may be stale by the time you act
// on it.
func (g *Gate) Done() bool {
	return g.done.Load()
}

type noCopy struct{}

func (*noCopy) Lock() {}
