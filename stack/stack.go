/*
Package stack provides a synchronized LIFO stack. All operations are atomic
with respect to each other: the sequence of elements never appears torn, and
no element is lost or duplicated by concurrent pushes and pops.

Unlike its sibling package queue, a pop on an empty stack is an error
(ErrEmpty), not a suspension. A queue's consumers wait for producers to feed
them; a stack's consumers are assumed to be working a backlog that is either
there or not, so absence of work is an answer, not something to wait for.
That asymmetry is deliberate.

	s := stack.New[string]()
	s.Push("a")
	s.Push("b")

	v, err := s.Pop() // "b"
	if err != nil {
		// empty
	}

Use TryPop when draining:

	for {
		v, ok := s.TryPop()
		if !ok {
			break
		}
		process(v)
	}
*/
package stack

import (
	"errors"

	"github.com/gostdlib/guarded/guard"
)

// ErrEmpty is returned by Pop when the stack has no elements.
var ErrEmpty = errors.New("pop from an empty stack")

// Stack is a synchronized LIFO stack of T. Create with New(). A Stack is
// used by pointer and must not be copied; use Clone to duplicate one.
type Stack[T any] struct {
	g *guard.Value[[]T]
}

// New creates an empty Stack.
func New[T any]() *Stack[T] {
	return &Stack[T]{g: guard.New([]T{})}
}

// Push places v on top of the stack.
func (s *Stack[T]) Push(v T) {
	s.g.Exclusive(func(vs *[]T) error {
		*vs = append(*vs, v)
		return nil
	})
}

// Pop removes and returns the top element. If the stack is empty it returns
// ErrEmpty; it never blocks waiting for a Push.
func (s *Stack[T]) Pop() (T, error) {
	var top T
	err := s.g.Exclusive(func(vs *[]T) error {
		n := len(*vs)
		if n == 0 {
			return ErrEmpty
		}
		top = (*vs)[n-1]
		var zero T
		(*vs)[n-1] = zero // Drop the reference so the backing array doesn't pin it.
		*vs = (*vs)[:n-1]
		return nil
	})
	return top, err
}

// TryPop is Pop with a boolean result: ok is false when the stack was empty.
func (s *Stack[T]) TryPop() (T, bool) {
	v, err := s.Pop()
	return v, err == nil
}

// Len returns the number of elements. This is a point-in-time snapshot: by
// the time you act on it, concurrent pushes and pops may have changed it.
func (s *Stack[T]) Len() int {
	n, _ := guard.Use(s.g, func(vs *[]T) (int, error) {
		return len(*vs), nil
	})
	return n
}

// IsEmpty reports whether the stack has no elements. The same snapshot
// caveat as Len applies.
func (s *Stack[T]) IsEmpty() bool {
	return s.Len() == 0
}

// Clone returns a new independent Stack holding the same elements. The
// source is locked for the duration of the copy, so the clone never observes
// a torn sequence. A push racing with Clone is either in the clone or not,
// depending on whether it beat the lock; it is never half-copied.
func (s *Stack[T]) Clone() *Stack[T] {
	var cp []T
	s.g.Exclusive(func(vs *[]T) error {
		cp = make([]T, len(*vs))
		copy(cp, *vs)
		return nil
	})
	return &Stack[T]{g: guard.New(cp)}
}
