package queue

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, err := New[int]()
	if err != nil {
		t.Fatalf("TestQueueFIFO: %s", err)
	}

	want := []int{}
	for i := 0; i < 100; i++ {
		want = append(want, i)
		q.Push(i)
	}

	got := []int{}
	for i := 0; i < 100; i++ {
		got = append(got, q.Pop())
	}

	// One consumer, so delivery order must be exactly push order.
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestQueueFIFO: -want/+got:\n%s", diff)
	}
	if !q.IsEmpty() {
		t.Errorf("TestQueueFIFO: queue not empty after draining")
	}
}

func TestQueueTwoProducersOneConsumer(t *testing.T) {
	t.Parallel()

	q, err := New[int]()
	if err != nil {
		t.Fatalf("TestQueueTwoProducersOneConsumer: %s", err)
	}

	const perProducer = 1000

	// Two producers push disjoint ranges; the consumer must collect exactly
	// the union, nothing lost, nothing duplicated.
	for p := 0; p < 2; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}()
	}

	got := []int{}
	for i := 0; i < 2*perProducer; i++ {
		got = append(got, q.Pop())
	}

	want := []int{}
	for i := 0; i < 2*perProducer; i++ {
		want = append(want, i)
	}
	sort.Ints(got)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestQueueTwoProducersOneConsumer: -want/+got:\n%s", diff)
	}
}

func TestQueueManyConsumers(t *testing.T) {
	t.Parallel()

	q, err := New[int]()
	if err != nil {
		t.Fatalf("TestQueueManyConsumers: %s", err)
	}

	const (
		numConsumers = 8
		numItems     = 1000
	)

	results := make(chan int, numItems)
	var wg sync.WaitGroup
	for c := 0; c < numConsumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := q.Pop()
				if v < 0 { // poison pill
					return
				}
				results <- v
			}
		}()
	}

	for i := 0; i < numItems; i++ {
		q.Push(i)
	}
	for c := 0; c < numConsumers; c++ {
		q.Push(-1)
	}
	wg.Wait()
	close(results)

	got := []int{}
	for v := range results {
		got = append(got, v)
	}
	want := []int{}
	for i := 0; i < numItems; i++ {
		want = append(want, i)
	}

	// Which consumer got which element is unspecified; the multiset is not.
	sort.Ints(got)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestQueueManyConsumers: -want/+got:\n%s", diff)
	}
}

func TestQueueTryPop(t *testing.T) {
	t.Parallel()

	q, err := New[string]()
	if err != nil {
		t.Fatalf("TestQueueTryPop: %s", err)
	}

	if v, ok := q.TryPop(); ok {
		t.Errorf("TestQueueTryPop: got (%q, true) on an empty queue, want ok == false", v)
	}

	q.Push("hello")
	v, ok := q.TryPop()
	if !ok || v != "hello" {
		t.Errorf("TestQueueTryPop: got (%q, %v), want (\"hello\", true)", v, ok)
	}
	if _, ok := q.TryPop(); ok {
		t.Errorf("TestQueueTryPop: got ok == true after draining, want false")
	}
}

func TestQueueBounded(t *testing.T) {
	t.Parallel()

	q, err := New[int](WithCap(4))
	if err != nil {
		t.Fatalf("TestQueueBounded: %s", err)
	}

	for i := 0; i < 4; i++ {
		q.Push(i)
	}

	// The fifth push must suspend until a Pop makes room.
	pushed := make(chan struct{})
	go func() {
		q.Push(4)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatalf("TestQueueBounded: push on a full queue did not suspend")
	case <-time.After(50 * time.Millisecond):
	}

	if got := q.Pop(); got != 0 {
		t.Fatalf("TestQueueBounded: got %d, want 0", got)
	}

	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestQueueBounded: push never resumed after room was made")
	}

	if got := q.Len(); got != 4 {
		t.Errorf("TestQueueBounded: Len() == %d, want 4", got)
	}
}

func TestQueueBoundedThroughput(t *testing.T) {
	t.Parallel()

	q, err := New[int](WithCap(2))
	if err != nil {
		t.Fatalf("TestQueueBoundedThroughput: %s", err)
	}

	const numItems = 500

	go func() {
		for i := 0; i < numItems; i++ {
			q.Push(i)
		}
	}()

	got := []int{}
	for i := 0; i < numItems; i++ {
		got = append(got, q.Pop())
		if n := q.Len(); n > 2 {
			t.Errorf("TestQueueBoundedThroughput: Len() == %d, want <= 2", n)
		}
	}

	want := []int{}
	for i := 0; i < numItems; i++ {
		want = append(want, i)
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestQueueBoundedThroughput: -want/+got:\n%s", diff)
	}
}

func TestQueueBadOption(t *testing.T) {
	t.Parallel()

	if _, err := New[int](WithCap(0)); err == nil {
		t.Errorf("TestQueueBadOption: want err != nil for WithCap(0), got err == nil")
	}
}
