/*
Package queue provides Blocking, a synchronized FIFO queue whose consumers
suspend until there is something to take. It is the producer/consumer
counterpart to package stack: absence of data is never an error here, it is
either a false from TryPop or a suspension in Pop.

	q, err := queue.New[job]()
	if err != nil {
		// handle error
	}

	// Producers:
	q.Push(job{...})

	// Consumers:
	for {
		j := q.Pop() // suspends until a job arrives
		process(j)
	}

Elements are delivered in push order across the whole queue, but when several
consumers wait at once there is no promise about which of them receives a
given element. Do not build a protocol on wake order.

A queue can be bounded with WithCap, in which case Push suspends while the
queue is full, giving you backpressure on producers:

	q, err := queue.New[job](queue.WithCap(128))

Why not just a channel? A channel is usually the right answer. Blocking is
for the cases a channel handles poorly: an unbounded queue (a channel's
buffer is fixed at make time), TryPop without a select dance, and Len/IsEmpty
snapshots for monitoring.
*/
package queue

import (
	"fmt"

	"github.com/gostdlib/guarded/guard"
	"github.com/johnsiilver/calloptions"
)

// Blocking is a synchronized FIFO queue of T. Create with New(). A Blocking
// is used by pointer and must not be copied.
type Blocking[T any] struct {
	g *guard.Value[[]T]

	// cap is the bound on queue length, 0 for unbounded. Immutable after New.
	cap int
}

type newOptions struct {
	cap int
}

// Option is an option for New().
type Option interface {
	queue()
}

// WithCap bounds the queue at n elements. Push suspends while the queue is
// full, resuming when a Pop makes room. n must be > 0.
func WithCap(n int) interface {
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
					if n < 1 {
						return fmt.Errorf("cannot use WithCap with n < 1")
					}
					t.cap = n
					return nil
				}
				return fmt.Errorf("WithCap can only be used with queue.Option")
			},
		),
	}
}

// New creates an empty Blocking queue.
func New[T any](options ...Option) (*Blocking[T], error) {
	opts := newOptions{}
	if err := calloptions.ApplyOptions(&opts, options); err != nil {
		return nil, err
	}

	return &Blocking[T]{g: guard.New([]T{}), cap: opts.cap}, nil
}

// Push appends v at the tail of the queue and wakes waiting consumers. On a
// bounded queue Push suspends while the queue is full.
func (q *Blocking[T]) Push(v T) {
	if q.cap > 0 {
		q.g.ExclusiveWait(
			func(vs *[]T) bool { return len(*vs) < q.cap },
			func(vs *[]T) error {
				*vs = append(*vs, v)
				return nil
			},
		)
	} else {
		q.g.Exclusive(func(vs *[]T) error {
			*vs = append(*vs, v)
			return nil
		})
	}
	// Broadcast, not Signal: on a bounded queue the waiters are a mix of
	// consumers waiting for data and producers waiting for room, and a
	// Signal could wake the wrong kind and strand the right one. Every
	// waiter re-checks its predicate, so overshooting is harmless.
	q.g.Broadcast()
}

// Pop removes and returns the element at the head of the queue, suspending
// the caller until the queue is non-empty. The wait re-checks for an element
// after every wakeup: with multiple consumers racing, a wakeup does not mean
// the woken goroutine gets the element.
func (q *Blocking[T]) Pop() T {
	var head T
	q.g.ExclusiveWait(
		func(vs *[]T) bool { return len(*vs) > 0 },
		func(vs *[]T) error {
			head = (*vs)[0]
			var zero T
			(*vs)[0] = zero // Drop the reference so the backing array doesn't pin it.
			*vs = (*vs)[1:]
			return nil
		},
	)
	if q.cap > 0 {
		q.g.Broadcast()
	}
	return head
}

// TryPop is Pop without the suspension: ok is false when the queue was empty
// at the time of the call.
func (q *Blocking[T]) TryPop() (T, bool) {
	var head T
	ok := false
	q.g.Exclusive(func(vs *[]T) error {
		if len(*vs) == 0 {
			return nil
		}
		ok = true
		head = (*vs)[0]
		var zero T
		(*vs)[0] = zero
		*vs = (*vs)[1:]
		return nil
	})
	if ok && q.cap > 0 {
		q.g.Broadcast()
	}
	return head, ok
}

// Len returns the number of queued elements. This is a point-in-time
// snapshot only; it cannot be used to predict whether a Pop would suspend.
func (q *Blocking[T]) Len() int {
	n, _ := guard.Use(q.g, func(vs *[]T) (int, error) {
		return len(*vs), nil
	})
	return n
}

// IsEmpty reports whether the queue was empty at the time of the call. The
// same snapshot caveat as Len applies.
func (q *Blocking[T]) IsEmpty() bool {
	return q.Len() == 0
}
