package orchestrator

import (
	"sync"
	"time"

	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/scheduler"
)

type taskScheduler interface {
	Schedule(delay time.Duration, fn func()) (*scheduler.Task, error)
}

// autoStop stops the service after it has had no connections for a
// configured delay. At most one check is pending at a time.
type autoStop struct {
	sched   taskScheduler
	count   func() int
	running func() bool
	onIdle  func(idle time.Duration)
	now     func() time.Time

	mu             sync.Mutex
	enabled        bool
	delay          time.Duration
	pending        *scheduler.Task
	gen            uint64
	lastDisconnect time.Time
}

func newAutoStop(sched taskScheduler, count func() int, running func() bool, onIdle func(time.Duration), now func() time.Time) *autoStop {
	if now == nil {
		now = time.Now
	}
	return &autoStop{
		sched:   sched,
		count:   count,
		running: running,
		onIdle:  onIdle,
		now:     now,
	}
}

// setup records the settings for a new run without arming a check. The
// first check is armed by the first report of zero connections.
func (a *autoStop) setup(enabled bool, delay time.Duration) {
	a.mu.Lock()
	a.enabled = enabled
	a.delay = delay
	a.mu.Unlock()
}

// configure applies changed settings and re-evaluates the current count.
func (a *autoStop) configure(enabled bool, delay time.Duration) {
	a.mu.Lock()
	a.enabled = enabled
	a.delay = delay
	a.mu.Unlock()

	if !enabled {
		a.cancel()
		return
	}
	if a.count() == 0 {
		a.schedule()
	} else {
		a.cancel()
	}
}

// connectionsChanged records disconnect time and arms or disarms the check.
func (a *autoStop) connectionsChanged(n int) {
	if n > 0 {
		a.mu.Lock()
		a.lastDisconnect = time.Time{}
		a.mu.Unlock()
		a.cancel()
		return
	}

	a.mu.Lock()
	a.lastDisconnect = a.now()
	enabled := a.enabled
	a.mu.Unlock()

	if enabled {
		a.schedule()
	}
}

func (a *autoStop) schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending.Cancel()
	a.pending = nil
	a.gen++
	gen := a.gen
	delay := a.delay

	task, err := a.sched.Schedule(delay, func() { a.fire(gen) })
	if err != nil {
		logging.Debugf("autostop: not scheduled: %v", err)
		return
	}
	a.pending = task
	logging.Debugf("autostop: check in %s", delay)
}

func (a *autoStop) cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending.Cancel() {
		logging.Debugf("autostop: pending check cancelled")
	}
	a.pending = nil
	a.gen++
}

func (a *autoStop) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.pending = nil
	delay := a.delay
	a.mu.Unlock()

	// A connection may have arrived after the check was scheduled.
	if n := a.count(); n > 0 {
		logging.Debugf("autostop: %d connection(s) active, staying up", n)
		return
	}
	if !a.running() {
		return
	}
	a.onIdle(delay)
}

func (a *autoStop) lastDisconnectAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDisconnect
}

func (a *autoStop) armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}
