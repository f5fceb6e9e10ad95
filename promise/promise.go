/*
Package promise provides a single-assignment result handoff between a
producer and one or more consumers: a Promise the producer resolves exactly
once, and a Future the consumer blocks on. It is the one-shot counterpart to
package queue — a queue carries a stream of elements, a promise carries a
single result (or failure) that is written once and never changes.

	p, f, err := promise.New[int]()
	if err != nil {
		// handle error
	}

	go func() {
		defer p.Close()

		v, err := expensiveCall()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()

	v, err := f.Get() // suspends until the goroutine resolves or rejects
	if err != nil {
		// expensiveCall's error, or promise.ErrBroken if the producer
		// returned without resolving
	}

The defer p.Close() is the important habit: a producer that dies without
resolving would otherwise leave its consumer suspended forever. Close rejects
an unresolved promise with ErrBroken and is a no-op on a resolved one.

By default a Future is consumed by its first Get: a second Get returns
ErrAlreadyConsumed, making accidental double-reads loud instead of racy. If
several goroutines legitimately need the result, say so at construction time:

	p, f, err := promise.New[int](promise.WithSharedRead())

In shared mode every Get independently returns the one resolved result; the
consumers need no coordination among themselves because the result is
immutable once set.

Why not just a channel? A 1-buffered channel is a fine future until two
goroutines race to send (second send blocks forever instead of erroring), or
two race to receive (one hangs), or the producer forgets to send at all.
Promise turns each of those silent hangs into an explicit error.
*/
package promise

import (
	"errors"
	"fmt"
	"time"

	"github.com/gostdlib/guarded/guard"
	"github.com/johnsiilver/calloptions"
)

var (
	// ErrAlreadySatisfied is returned by Resolve, Reject or Close when the
	// promise already holds a result.
	ErrAlreadySatisfied = errors.New("promise is already satisfied")
	// ErrAlreadyConsumed is returned by Get when the future's single read
	// already happened. Shared-read futures never return this.
	ErrAlreadyConsumed = errors.New("future was already consumed")
	// ErrBroken is returned by Get when the producer closed the promise
	// without resolving it.
	ErrBroken = errors.New("promise was closed before it was resolved")
	// ErrTimeout is returned by GetTimeout when the wait expires before the
	// promise is resolved.
	ErrTimeout = errors.New("timed out waiting for the promise")
)

// result is the guarded state shared by a Promise/Future pair.
type result[T any] struct {
	// set marks the terminal transition: exactly one of val or err is
	// meaningful once set is true, and neither changes afterwards.
	set      bool
	val      T
	err      error
	consumed bool
}

// core is the shared half behind both handles.
type core[T any] struct {
	g *guard.Value[result[T]]

	// sharedRead permits any number of Gets. Immutable after New.
	sharedRead bool
}

// Promise is the producer side of the pair: resolve it, reject it, or close
// it. All methods are safe for concurrent use from any number of goroutines;
// exactly one terminal write wins.
type Promise[T any] struct {
	c *core[T]
}

// Future is the consumer side of the pair. Get suspends until the paired
// Promise is resolved, rejected or closed.
type Future[T any] struct {
	c *core[T]
}

type newOptions struct {
	sharedRead bool
}

// Option is an option for New().
type Option interface {
	promise()
}

// WithSharedRead allows the Future to be read by any number of consumers:
// every Get returns the resolved result instead of the first Get consuming
// it. Whether a future is shared is a property of the pair, fixed at
// construction; it is never inferred from how many goroutines happen to
// call Get.
func WithSharedRead() interface {
	Option
	calloptions.CallOption
} {
	return struct {
		Option
		calloptions.CallOption
	}{
		CallOption: calloptions.New(
			func(a any) error {
				switch t := a.(type) {
				case *newOptions:
					t.sharedRead = true
					return nil
				}
				return fmt.Errorf("WithSharedRead can only be used with promise.Option")
			},
		),
	}
}

// New creates a connected Promise/Future pair.
func New[T any](options ...Option) (*Promise[T], *Future[T], error) {
	opts := newOptions{}
	if err := calloptions.ApplyOptions(&opts, options); err != nil {
		return nil, nil, err
	}

	c := &core[T]{
		g:          guard.New(result[T]{}),
		sharedRead: opts.sharedRead,
	}
	return &Promise[T]{c: c}, &Future[T]{c: c}, nil
}

// Resolve sets the promise's value and wakes every waiting consumer. If the
// promise already holds a result (from Resolve, Reject or Close), it returns
// ErrAlreadySatisfied and the stored result is not touched: single
// assignment is enforced, never silently overwritten.
func (p *Promise[T]) Resolve(v T) error {
	err := p.c.g.Exclusive(func(r *result[T]) error {
		if r.set {
			return ErrAlreadySatisfied
		}
		r.set = true
		r.val = v
		return nil
	})
	if err != nil {
		return err
	}
	p.c.g.Broadcast()
	return nil
}

// Reject sets the promise's failure and wakes every waiting consumer. The
// error is handed to consumers by Get exactly as stored. Rejecting an
// already satisfied promise returns ErrAlreadySatisfied.
func (p *Promise[T]) Reject(rejection error) error {
	if rejection == nil {
		return fmt.Errorf("cannot call Reject with a nil error")
	}

	err := p.c.g.Exclusive(func(r *result[T]) error {
		if r.set {
			return ErrAlreadySatisfied
		}
		r.set = true
		r.err = rejection
		return nil
	})
	if err != nil {
		return err
	}
	p.c.g.Broadcast()
	return nil
}

// Close marks the producer as finished. If the promise is still unresolved
// this rejects it with ErrBroken, so consumers suspended in Get (and any
// future Get) receive an error instead of hanging forever. Close on a
// satisfied promise is a no-op. It is safe, and good practice, for the
// producer to defer Close unconditionally.
func (p *Promise[T]) Close() error {
	err := p.Reject(ErrBroken)
	if errors.Is(err, ErrAlreadySatisfied) {
		return nil
	}
	return err
}

// Get suspends the caller until the promise is resolved, then returns the
// value or the rejection error. On a default (single-read) future, the first
// Get consumes the result and every later Get returns ErrAlreadyConsumed;
// on a shared-read future any number of Gets return the result.
func (f *Future[T]) Get() (T, error) {
	var (
		val  T
		rerr error
	)
	err := f.c.g.ExclusiveWait(
		func(r *result[T]) bool { return r.set },
		func(r *result[T]) error { return f.c.take(r, &val, &rerr) },
	)
	if err != nil {
		return val, err
	}
	return val, rerr
}

// GetTimeout is Get with a bound: if the promise is not resolved within d,
// it returns ErrTimeout. A timed-out call consumes nothing; the caller may
// call Get or GetTimeout again.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	var (
		val  T
		rerr error
	)
	err := f.c.g.ExclusiveWaitTimeout(
		d,
		func(r *result[T]) bool { return r.set },
		func(r *result[T]) error { return f.c.take(r, &val, &rerr) },
	)
	if err != nil {
		if errors.Is(err, guard.ErrWaitTimeout) {
			return val, ErrTimeout
		}
		return val, err
	}
	return val, rerr
}

// take copies the resolved result out under the guard's lock, enforcing the
// single-read rule for non-shared futures. Called with r.set already true.
func (c *core[T]) take(r *result[T], val *T, rerr *error) error {
	if !c.sharedRead {
		if r.consumed {
			return ErrAlreadyConsumed
		}
		r.consumed = true
	}
	*val = r.val
	*rerr = r.err
	return nil
}
