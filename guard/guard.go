/*
Package guard provides guarded values: a value of type T paired with the lock
that must be held to touch it. The guarded value is only reachable inside a
function you pass to the guard, so the lock is acquired on entry and released
on every exit path, and no reference to the interior can outlive the lock
scope. This is the base building block for the containers in this module
(queue, stack, promise).

Basic use protecting a map:

	seen := guard.New(map[string]int{})

	err := seen.Exclusive(func(m *map[string]int) error {
		(*m)["hello"]++
		return nil
	})

If you need a typed result out of the critical section, use the package level
Use function (methods cannot introduce new type parameters):

	count, err := guard.Use(seen, func(m *map[string]int) (int, error) {
		return (*m)["hello"], nil
	})

RW is the reader/writer variant. Shared() calls may run concurrently with
each other, but never with an Exclusive() call:

	cfg := guard.NewRW(config{addr: "localhost:8080"})

	err := cfg.Shared(func(c config) error {
		dial(c.addr)
		return nil
	})

Value also supports condition based waiting. ExclusiveWait suspends the
caller until a predicate over the guarded value holds, re-checking the
predicate after every wakeup, so spurious wakeups and races between multiple
waiters are harmless:

	q := guard.New([]int{})

	// Consumer: wait until there is something to take.
	var got int
	q.ExclusiveWait(
		func(s *[]int) bool { return len(*s) > 0 },
		func(s *[]int) error {
			got = (*s)[0]
			*s = (*s)[1:]
			return nil
		},
	)

	// Producer:
	q.Exclusive(func(s *[]int) error { *s = append(*s, 42); return nil })
	q.Signal()

Multiple guards can be acquired as a unit with LockAll(), which is deadlock
free. See multi.go.

Do not smuggle the interior pointer out of the function you pass in (storing
it in a package variable, sending it on a channel, handing it to a callback
that retains it). Nothing can stop that in Go, and it silently defeats every
guarantee this package makes.
*/
package guard

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gostdlib/guarded/once"
)

// nextID hands out the stable acquisition IDs used to order multi-guard
// acquisition. IDs start at 1 so a zero ID always means a misconstructed
// guard.
var nextID atomic.Uint64

// ErrWaitTimeout is returned by ExclusiveWaitTimeout when the wait duration
// expires before the predicate holds.
var ErrWaitTimeout = errors.New("timed out waiting for the guard condition")

// Value guards a value of type T with an exclusive lock. The guarded value
// can only be reached through a function passed to one of the methods, which
// runs with the lock held. Create with New(). A Value must not be copied
// after creation.
type Value[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	condInit once.Gate
	id       uint64
	v        T

	noCopy noCopy // Flag govet to prevent copying
}

// New creates a new Value guarding v.
func New[T any](v T) *Value[T] {
	return &Value[T]{id: nextID.Add(1), v: v}
}

// Exclusive acquires the lock, calls fn with mutable access to the guarded
// value and releases the lock when fn returns, on every exit path. fn's
// error is returned unchanged. fn must not retain the pointer past its
// return and must not call back into this Value (that is a self-deadlock).
func (g *Value[T]) Exclusive(fn func(v *T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fn(&g.v)
}

// ExclusiveWait acquires the lock and suspends the caller until pred reports
// true for the guarded value, then calls fn exactly as Exclusive does. The
// predicate is re-checked in a loop after every wakeup: a wakeup is a hint,
// never a promise, and another waiter may have consumed whatever the waker
// saw. Wakeups come from Signal and Broadcast.
func (g *Value[T]) ExclusiveWait(pred func(v *T) bool, fn func(v *T) error) error {
	g.ensureCond()

	g.mu.Lock()
	defer g.mu.Unlock()

	for !pred(&g.v) {
		g.cond.Wait()
	}
	return fn(&g.v)
}

// ExclusiveWaitTimeout is ExclusiveWait with a bound: if d elapses before the
// predicate holds, it returns ErrWaitTimeout and fn does not run.
func (g *Value[T]) ExclusiveWaitTimeout(d time.Duration, pred func(v *T) bool, fn func(v *T) error) error {
	g.ensureCond()

	deadline := time.Now().Add(d)
	// sync.Cond has no timed wait, so a timer broadcasts at the deadline to
	// kick every waiter into re-checking. The callback takes the lock first:
	// a waiter that saw time remaining but has not parked yet still holds
	// the lock, so the broadcast cannot fire in that gap and go unheard.
	// Other waiters see the broadcast as one more spurious wakeup.
	timer := time.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer timer.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for !pred(&g.v) {
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		g.cond.Wait()
	}
	return fn(&g.v)
}

// Signal wakes one goroutine suspended in ExclusiveWait/ExclusiveWaitTimeout,
// if there is one. Which waiter wakes is unspecified. Call it after an
// Exclusive call that made the awaited condition true.
func (g *Value[T]) Signal() {
	g.ensureCond()
	g.cond.Signal()
}

// Broadcast wakes every goroutine suspended in ExclusiveWait/
// ExclusiveWaitTimeout.
func (g *Value[T]) Broadcast() {
	g.ensureCond()
	g.cond.Broadcast()
}

// ensureCond lazily constructs the condition variable backing the wait
// methods. Guards that never wait never allocate it.
func (g *Value[T]) ensureCond() {
	g.condInit.Do(func() error {
		g.cond = sync.NewCond(&g.mu)
		return nil
	})
}

// The Locker plumbing below is what lets LockAll() treat Values of different
// type parameters uniformly. See multi.go.

func (g *Value[T]) acquireID() uint64 { return g.id }
func (g *Value[T]) lock()             { g.mu.Lock() }
func (g *Value[T]) unlock()           { g.mu.Unlock() }
func (g *Value[T]) tryLock() bool     { return g.mu.TryLock() }

// Use acquires g's lock, calls fn with mutable access to the guarded value
// and returns fn's result, releasing the lock on every exit path. This is
// Exclusive for critical sections that produce a value.
func Use[T, R any](g *Value[T], fn func(v *T) (R, error)) (R, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fn(&g.v)
}

// RW guards a value of type T with a reader/writer lock: any number of
// concurrent Shared() calls, or one Exclusive() call, never both. Prefer
// Value unless reads clearly dominate; an RW lock is only a win when reads
// are frequent enough to overlap. Create with NewRW(). An RW must not be
// copied after creation.
type RW[T any] struct {
	mu sync.RWMutex
	id uint64
	v  T

	noCopy noCopy
}

// NewRW creates a new RW guarding v.
func NewRW[T any](v T) *RW[T] {
	return &RW[T]{id: nextID.Add(1), v: v}
}

// Exclusive acquires the write lock, calls fn with mutable access to the
// guarded value and releases the lock on every exit path.
func (g *RW[T]) Exclusive(fn func(v *T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fn(&g.v)
}

// Shared acquires the read lock and calls fn with a copy of the guarded
// value. Shared calls may run concurrently with each other but never with an
// Exclusive call. fn receives a copy so there is no mutable reference to
// leak; note that if T contains reference types (slices, maps) the copy
// still shares their backing storage, so treat the value as read only.
func (g *RW[T]) Shared(fn func(v T) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return fn(g.v)
}

func (g *RW[T]) acquireID() uint64 { return g.id }
func (g *RW[T]) lock()             { g.mu.Lock() }
func (g *RW[T]) unlock()           { g.mu.Unlock() }
func (g *RW[T]) tryLock() bool     { return g.mu.TryLock() }

// Modify acquires g's write lock, calls fn with mutable access to the
// guarded value and returns fn's result. This is RW.Exclusive for critical
// sections that produce a value.
func Modify[T, R any](g *RW[T], fn func(v *T) (R, error)) (R, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fn(&g.v)
}

// View acquires g's read lock, calls fn with a copy of the guarded value and
// returns fn's result. This is RW.Shared for reads that produce a value.
func View[T, R any](g *RW[T], fn func(v T) (R, error)) (R, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return fn(g.v)
}

type noCopy struct{}

func (*noCopy) Lock() {}
