package once

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGateConcurrent(t *testing.T) {
	t.Parallel()

	g := Gate{}
	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Do(func() error {
				count.Add(1)
				return nil
			}); err != nil {
				t.Errorf("TestGateConcurrent: got err == %s, want err == nil", err)
			}
		}()
	}
	wg.Wait()

	if count.Load() != 1 {
		t.Errorf("TestGateConcurrent: initializer ran %d times, want 1", count.Load())
	}
	if !g.Done() {
		t.Errorf("TestGateConcurrent: Done() == false, want true")
	}
}

func TestGateRetryAfterFailure(t *testing.T) {
	t.Parallel()

	g := Gate{}
	var runs int

	err := g.Do(func() error {
		runs++
		return fmt.Errorf("mock error")
	})
	if err == nil {
		t.Fatalf("TestGateRetryAfterFailure: want err != nil, got err == nil")
	}
	if g.Done() {
		t.Fatalf("TestGateRetryAfterFailure: Done() == true after a failed init")
	}

	if err := g.Do(func() error { runs++; return nil }); err != nil {
		t.Fatalf("TestGateRetryAfterFailure: retry got err == %s, want err == nil", err)
	}
	if runs != 2 {
		t.Fatalf("TestGateRetryAfterFailure: initializer ran %d times, want 2", runs)
	}

	// The gate is shut now, so this must not run.
	if err := g.Do(func() error { runs++; return nil }); err != nil {
		t.Fatalf("TestGateRetryAfterFailure: got err == %s, want err == nil", err)
	}
	if runs != 2 {
		t.Fatalf("TestGateRetryAfterFailure: initializer ran after the gate was done")
	}
}

func TestGateLosersSeeEffects(t *testing.T) {
	t.Parallel()

	g := Gate{}
	var effect int32
	var wg sync.WaitGroup

	// Every caller must observe the single execution as fully completed
	// before its Do returns, winner or not.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Do(func() error {
				atomic.StoreInt32(&effect, 42)
				return nil
			})
			if atomic.LoadInt32(&effect) != 42 {
				t.Errorf("TestGateLosersSeeEffects: Do returned before the init's effects were visible")
			}
		}()
	}
	wg.Wait()
}

func TestGateNilInit(t *testing.T) {
	t.Parallel()

	g := Gate{}
	if err := g.Do(nil); err == nil {
		t.Fatalf("TestGateNilInit: want err != nil, got err == nil")
	}
	if g.Done() {
		t.Fatalf("TestGateNilInit: a nil initializer must not close the gate")
	}
}
