package executors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradeengine/src/controller"
)

type fakeReconciler struct {
	calls   atomic.Int32
	panicAt int32
	err     error
}

func (f *fakeReconciler) RunCycle(ctx context.Context) (controller.CycleStats, error) {
	n := f.calls.Add(1)
	if n == f.panicAt {
		panic("reconciler exploded")
	}
	return controller.CycleStats{Visited: 1}, f.err
}

// Runs one cycle immediately and keeps ticking.
func TestRunSettlementLoopTicks(t *testing.T) {
	r := &fakeReconciler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunSettlementLoop(ctx, r, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 cycles, got %d", r.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}

// Cycle errors never stop the loop.
func TestRunSettlementLoopSurvivesErrors(t *testing.T) {
	r := &fakeReconciler{err: errors.New("database unavailable")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go RunSettlementLoop(ctx, r, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop stopped after a failed cycle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A panic restarts the loop, which runs its immediate cycle again.
func TestRunSettlementLoopRestartsOnPanic(t *testing.T) {
	old := restartDelay
	restartDelay = 5 * time.Millisecond
	t.Cleanup(func() { restartDelay = old })

	r := &fakeReconciler{panicAt: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a long period, so the second call can only come from the restart
	go RunSettlementLoop(ctx, r, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("loop was not restarted after panic")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
