// Package scheduler runs delayed tasks on a fixed number of worker goroutines.
//
// It is the shared pool behind debounced reload notifications and auto-stop
// checks. Tasks are cancellable until they start; a task that has started
// always runs to completion. Shutdown waits a bounded grace period for
// pending work and then force-cancels whatever is left.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
)

// DefaultShutdownGrace is the wait applied by Shutdown callers that have no
// better bound.
const DefaultShutdownGrace = 5 * time.Second

// queueSize bounds the number of due tasks waiting for a worker.
const queueSize = 256

const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCancelled
)

// Task is a handle to a scheduled function.
type Task struct {
	pool  *Pool
	fn    func()
	timer *time.Timer
	state atomic.Int32
}

// Cancel prevents the task from running if it has not started yet.
// It never blocks and reports whether this call cancelled the task.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pool.finish(t)
	return true
}

// Done reports whether the task ran or was cancelled.
func (t *Task) Done() bool {
	if t == nil {
		return true
	}
	s := t.state.Load()
	return s == stateDone || s == stateCancelled
}

// Pool is a fixed-size scheduled-task executor.
type Pool struct {
	name     string
	jobs     chan *Task
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup // pending + running tasks

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// New starts a pool with the given number of workers (at least one).
func New(name string, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		name:  name,
		jobs:  make(chan *Task, queueSize),
		quit:  make(chan struct{}),
		tasks: make(map[*Task]struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	logging.Infof("scheduler: %s pool started with %d worker(s)", name, workers)
	return p
}

// Schedule runs fn on a worker after delay. It fails with executor.closed
// once Shutdown has been called.
func (p *Pool) Schedule(delay time.Duration, fn func()) (*Task, error) {
	t := &Task{pool: p, fn: fn}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeExecutorClosed, fmt.Sprintf("%s pool is shut down", p.name))
	}
	p.tasks[t] = struct{}{}
	p.wg.Add(1)
	// The timer is created under the lock so Cancel never sees a nil timer
	// for a task that can still fire.
	t.timer = time.AfterFunc(delay, func() { p.enqueue(t) })
	p.mu.Unlock()

	return t, nil
}

// Pending returns the number of tasks that have neither run nor been cancelled.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Pool) enqueue(t *Task) {
	select {
	case p.jobs <- t:
	case <-p.quit:
		t.Cancel()
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.jobs:
			p.run(t)
		}
	}
}

func (p *Pool) run(t *Task) {
	if !t.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("scheduler: %s task panicked: %v", p.name, r)
		}
		t.state.Store(stateDone)
		p.finish(t)
	}()
	t.fn()
}

func (p *Pool) finish(t *Task) {
	p.mu.Lock()
	if _, ok := p.tasks[t]; ok {
		delete(p.tasks, t)
		p.mu.Unlock()
		p.wg.Done()
		return
	}
	p.mu.Unlock()
}

// Shutdown stops accepting tasks and waits up to grace for pending and
// running tasks. If they do not finish in time, the remaining pending tasks
// are cancelled and an executor.shutdown_timeout error is returned. Tasks
// already running are left to finish on their own. Safe to call repeatedly.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-drained:
		p.stopWorkers()
		return nil
	case <-timer.C:
	}

	p.mu.Lock()
	remaining := make([]*Task, 0, len(p.tasks))
	for t := range p.tasks {
		remaining = append(remaining, t)
	}
	p.mu.Unlock()

	cancelled := 0
	for _, t := range remaining {
		if t.Cancel() {
			cancelled++
		}
	}
	p.stopWorkers()

	logging.Warnf("scheduler: %s pool did not terminate gracefully, forcing shutdown", p.name)
	return apperrors.ExecutorShutdownTimeout(cancelled)
}

func (p *Pool) stopWorkers() {
	p.quitOnce.Do(func() { close(p.quit) })
}
