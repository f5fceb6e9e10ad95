package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gostdlib/internals/otel/span"
	"github.com/johnsiilver/calloptions"
)

// Locker is a guard that LockAll can acquire: any *Value[T] or *RW[T],
// regardless of type parameter. The methods are unexported to prevent
// implementations outside this package; an outside implementation could not
// honor the global acquisition order that makes LockAll deadlock free.
type Locker interface {
	acquireID() uint64
	lock()
	unlock()
	tryLock() bool
}

type lockAllOptions struct {
	retry backoff.BackOff
}

// LockOption is an option for LockAll().
type LockOption interface {
	lockAll()
}

// WithRetry switches LockAll from ordered acquisition to try/backoff
// acquisition: every guard is TryLocked, a single failure releases them all,
// and the attempt repeats under bo's delays until it wins. Use this when
// callers hold guards for long stretches and you would rather burn retries
// than queue behind them. bo only paces the retries, it cannot end them: if
// bo gives up (backoff.Stop), LockAll keeps retrying at the last delay bo
// produced. Acquisition never fails, it only suspends.
func WithRetry(bo backoff.BackOff) interface {
	LockOption
	calloptions.CallOption
} {
	return struct {
		LockOption
		calloptions.CallOption
	}{
		CallOption: calloptions.New(
			func(a any) error {
				switch t := a.(type) {
				case *lockAllOptions:
					if bo == nil {
						return fmt.Errorf("WithRetry cannot be used with a nil BackOff")
					}
					t.retry = bo
					return nil
				}
				return fmt.Errorf("WithRetry can only be used with LockOption")
			},
		),
	}
}

// MultiLock holds exclusive access to a set of guards acquired as a unit by
// LockAll. Unlock releases them all. A MultiLock is intended for use by a
// single goroutine; it is not safe for concurrent use.
type MultiLock struct {
	held []Locker
}

// Unlock releases every guard held by the MultiLock, in reverse acquisition
// order. Unlock is idempotent: a second call is a no-op.
func (m *MultiLock) Unlock() {
	for i := len(m.held) - 1; i >= 0; i-- {
		m.held[i].unlock()
	}
	m.held = nil
}

// errContended is the internal signal that a try/backoff round lost.
var errContended = errors.New("contended")

// LockAll acquires exclusive access to every supplied guard as a unit:
// when it returns, all of them are held; while it waits, none of them are.
// The same guard supplied more than once is detected by its acquisition ID
// and locked once, so swap-style operations where both arguments turn out to
// be the same resource are a no-op instead of a self-deadlock.
//
// By default guards are acquired in the total order of their creation
// sequence IDs. Every caller locks in the same global order, so no cycle of
// waiters can form no matter which subsets of guards different goroutines
// grab. WithRetry selects the try/backoff strategy instead; both are
// deadlock free. Acquisition never fails, only suspends; the returned error
// is solely for misuse (no guards, a nil guard, a bad option).
//
// ctx is used to record span events for the acquisition, including when the
// caller had to suspend. It does not cancel the acquisition; bounding or
// cancelling multi-resource acquisition belongs to the task layer above,
// which would otherwise have to reason about partially-held sets.
//
// While the MultiLock is held, the guards' own methods must not be called:
// the guards are already locked and an Exclusive call is a self-deadlock.
// LockAll is therefore a building block; most callers want Exclusive2 or
// ExclusiveAll, which acquire through LockAll and hand the interior values
// to a function the same way Value.Exclusive does.
func LockAll(ctx context.Context, lockers []Locker, options ...LockOption) (*MultiLock, error) {
	spanner := span.Get(ctx)

	opts := lockAllOptions{}
	if err := calloptions.ApplyOptions(&opts, options); err != nil {
		spanner.Error(err)
		return nil, err
	}

	if len(lockers) == 0 {
		err := fmt.Errorf("cannot call LockAll with no guards")
		spanner.Error(err)
		return nil, err
	}
	for _, l := range lockers {
		if l == nil {
			err := fmt.Errorf("cannot call LockAll with a nil guard")
			spanner.Error(err)
			return nil, err
		}
	}

	ordered := dedupe(lockers)

	now := time.Now()
	if opts.retry != nil {
		acquireRetry(ordered, opts.retry)
	} else {
		acquireOrdered(spanner, ordered, now)
	}
	acquireEvent(spanner, len(lockers), len(ordered), opts.retry != nil, now)

	return &MultiLock{held: ordered}, nil
}

// dedupe returns the guards sorted by acquisition ID with duplicates
// (same ID) collapsed. The input slice is not modified.
func dedupe(lockers []Locker) []Locker {
	ordered := make([]Locker, len(lockers))
	copy(ordered, lockers)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].acquireID() < ordered[j].acquireID()
	})

	out := ordered[:1]
	for _, l := range ordered[1:] {
		if l.acquireID() != out[len(out)-1].acquireID() {
			out = append(out, l)
		}
	}
	return out
}

// acquireOrdered locks the guards in slice order, which is global ID order.
func acquireOrdered(spanner span.Span, ordered []Locker, t time.Time) {
	blocked := false
	for _, l := range ordered {
		if l.tryLock() {
			continue
		}
		if !blocked {
			blocked = true
			blockEvent(spanner, t)
		}
		l.lock()
	}
}

// acquireRetry repeatedly try-locks every guard, releasing all of them the
// moment one refuses, with bo pacing the retries. A round that wins leaves
// every guard held. When acquireRetry returns, every guard is held: bo is
// wrapped so a Stop verdict cannot end the retries, because a LockAll that
// returned without the guards would hand the caller an unprotected critical
// section.
func acquireRetry(ordered []Locker, bo backoff.BackOff) {
	op := func() error {
		for i, l := range ordered {
			if l.tryLock() {
				continue
			}
			for j := i - 1; j >= 0; j-- {
				ordered[j].unlock()
			}
			return errContended
		}
		return nil
	}

	ub := &unbounded{bo: bo}
	// ub never returns Stop and op never returns a permanent error, so Retry
	// can only return nil. The loop stands in case a BackOff implementation
	// finds another way to make Retry give up.
	for backoff.Retry(op, ub) != nil {
	}
}

// unbounded adapts a BackOff so it never gives up: a Stop verdict is
// replaced with the last real delay the BackOff produced. Wrapping, rather
// than editing the caller's BackOff in place, leaves an argument the caller
// may reuse elsewhere untouched.
type unbounded struct {
	bo   backoff.BackOff
	last time.Duration
}

func (u *unbounded) NextBackOff() time.Duration {
	d := u.bo.NextBackOff()
	if d == backoff.Stop {
		if u.last <= 0 {
			u.last = time.Millisecond
		}
		return u.last
	}
	u.last = d
	return d
}

func (u *unbounded) Reset() {
	u.bo.Reset()
}

func acquireEvent(spanner span.Span, supplied, held int, retry bool, t time.Time) {
	spanner.Event(
		"guard.LockAll() acquired",
		"pkg", "github.com/gostdlib/guarded/guard",
		"guards_supplied", supplied,
		"guards_held", held,
		"retry_mode", retry,
		"acquire_latency_ns", time.Since(t),
	)
}

func blockEvent(spanner span.Span, t time.Time) {
	spanner.Event(
		"guard.LockAll() blocking....",
		"pkg", "github.com/gostdlib/guarded/guard",
		"event", "blocking",
		"acquire_latency_ns", time.Since(t),
	)
}

// Exclusive2 acquires g1 and g2 as a unit via LockAll and calls fn with
// mutable access to both guarded values, releasing both on every exit path.
// This is the two-resource form of Value.Exclusive; use it for swap or
// transfer operations that must see both values in a consistent state. If g1
// and g2 are the same guard it is locked once and fn receives the same
// pointer twice.
//
//	transfer := func(amount int) error {
//		return guard.Exclusive2(ctx, from, to, func(f, t *int) error {
//			if *f < amount {
//				return fmt.Errorf("insufficient funds")
//			}
//			*f -= amount
//			*t += amount
//			return nil
//		})
//	}
func Exclusive2[T1, T2 any](ctx context.Context, g1 *Value[T1], g2 *Value[T2], fn func(a *T1, b *T2) error, options ...LockOption) error {
	ml, err := LockAll(ctx, []Locker{g1, g2}, options...)
	if err != nil {
		return err
	}
	defer ml.Unlock()

	return fn(&g1.v, &g2.v)
}

// ExclusiveAll acquires every guard in gs as a unit via LockAll and calls fn
// with mutable access to all of the guarded values, in the same order as gs.
// A guard that appears more than once in gs is locked once, and fn sees
// aliased pointers at those positions.
func ExclusiveAll[T any](ctx context.Context, gs []*Value[T], fn func(vs []*T) error, options ...LockOption) error {
	lockers := make([]Locker, len(gs))
	for i, g := range gs {
		lockers[i] = g
	}

	ml, err := LockAll(ctx, lockers, options...)
	if err != nil {
		return err
	}
	defer ml.Unlock()

	vs := make([]*T, len(gs))
	for i, g := range gs {
		vs[i] = &g.v
	}
	return fn(vs)
}
