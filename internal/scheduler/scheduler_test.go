package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
)

func TestScheduleRunsAfterDelay(t *testing.T) {
	p := New("test", 2)
	defer p.Shutdown(time.Second)

	done := make(chan time.Time, 1)
	start := time.Now()
	if _, err := p.Schedule(30*time.Millisecond, func() { done <- time.Now() }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case ran := <-done:
		if ran.Sub(start) < 30*time.Millisecond {
			t.Errorf("task ran after %v, want >= 30ms", ran.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestCancelBeforeRun(t *testing.T) {
	p := New("test", 1)
	defer p.Shutdown(time.Second)

	var ran atomic.Bool
	task, err := p.Schedule(50*time.Millisecond, func() { ran.Store(true) })
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !task.Cancel() {
		t.Fatal("Cancel returned false for a pending task")
	}
	if task.Cancel() {
		t.Error("second Cancel should return false")
	}
	if !task.Done() {
		t.Error("cancelled task should report Done")
	}

	time.Sleep(120 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
	if n := p.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestCancelAfterRunReturnsFalse(t *testing.T) {
	p := New("test", 1)
	defer p.Shutdown(time.Second)

	done := make(chan struct{})
	task, err := p.Schedule(0, func() { close(done) })
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	<-done

	deadline := time.Now().Add(time.Second)
	for !task.Done() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if task.Cancel() {
		t.Error("Cancel should return false once the task has run")
	}
}

func TestNilTaskCancel(t *testing.T) {
	var task *Task
	if task.Cancel() {
		t.Error("nil Cancel should return false")
	}
	if !task.Done() {
		t.Error("nil task should report Done")
	}
}

func TestWorkersRunConcurrently(t *testing.T) {
	p := New("test", 3)
	defer p.Shutdown(time.Second)

	var running, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		_, err := p.Schedule(0, func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			running.Add(-1)
		})
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d tasks started", i)
		}
	}
	close(release)

	if peak.Load() != 3 {
		t.Errorf("peak concurrency = %d, want 3", peak.Load())
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := New("test", 1)
	defer p.Shutdown(time.Second)

	if _, err := p.Schedule(0, func() { panic("boom") }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	done := make(chan struct{})
	if _, err := p.Schedule(10*time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after panic")
	}
}

func TestShutdownWaitsForPendingTasks(t *testing.T) {
	p := New("test", 1)

	var ran atomic.Bool
	if _, err := p.Schedule(20*time.Millisecond, func() { ran.Store(true) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !ran.Load() {
		t.Error("pending task should run before a graceful shutdown returns")
	}
}

func TestShutdownRejectsNewTasks(t *testing.T) {
	p := New("test", 1)
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err := p.Schedule(0, func() {})
	if !apperrors.IsCode(err, apperrors.CodeExecutorClosed) {
		t.Fatalf("expected %s, got %v", apperrors.CodeExecutorClosed, err)
	}

	// Repeated shutdown is a no-op.
	if err := p.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestShutdownTimeoutCancelsPending(t *testing.T) {
	p := New("test", 1)

	var ran atomic.Bool
	if _, err := p.Schedule(time.Hour, func() { ran.Store(true) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	err := p.Shutdown(20 * time.Millisecond)
	if !apperrors.IsCode(err, apperrors.CodeExecutorShutdownTimeout) {
		t.Fatalf("expected %s, got %v", apperrors.CodeExecutorShutdownTimeout, err)
	}
	if n := p.Pending(); n != 0 {
		t.Errorf("Pending after forced shutdown = %d, want 0", n)
	}
	if ran.Load() {
		t.Error("force-cancelled task ran")
	}
}
