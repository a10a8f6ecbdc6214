// Package debounce coalesces bursts of file-change events into one delayed
// reload notification per file.
//
// Each accepted event is keyed by (path, 100ms bucket). A key already in the
// cache is a duplicate and is dropped. A new key schedules a notification
// after the refresh delay; when it fires, the base name of the file is handed
// to the notify callback and keys older than PurgeAfterBuckets are evicted.
// If a file already has a notification pending, the pending one is cancelled
// so only the last scheduled notification of a burst is delivered.
package debounce

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/scheduler"
)

const (
	// BucketSize is the width of a dedup window.
	BucketSize = 100 * time.Millisecond

	// PurgeAfterBuckets is how many buckets a key survives after the
	// current one before a purge pass evicts it (about 2s).
	PurgeAfterBuckets = 20

	// MinDelay is the floor applied to the notification delay.
	MinDelay = 50 * time.Millisecond
)

// ChangeKey identifies one file in one dedup window.
type ChangeKey struct {
	Path   string
	Bucket int64
}

// KeyAt returns the key for path at time t.
func KeyAt(path string, t time.Time) ChangeKey {
	return ChangeKey{Path: path, Bucket: bucketOf(t)}
}

func bucketOf(t time.Time) int64 {
	return t.UnixMilli() / BucketSize.Milliseconds()
}

// Scheduler runs delayed work. *scheduler.Pool satisfies it.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (*scheduler.Task, error)
}

type pendingNotify struct {
	task *scheduler.Task
	gen  uint64
}

// Debouncer is safe for concurrent use.
type Debouncer struct {
	sched  Scheduler
	notify func(name string)
	now    func() time.Time

	mu      sync.Mutex
	delay   time.Duration
	seen    map[ChangeKey]struct{}
	pending map[string]pendingNotify
	gen     uint64
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces time.Now for bucket computation.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// New creates a Debouncer that schedules notifications on sched.
func New(sched Scheduler, delay time.Duration, notify func(name string), opts ...Option) *Debouncer {
	d := &Debouncer{
		sched:   sched,
		notify:  notify,
		now:     time.Now,
		delay:   clampDelay(delay),
		seen:    make(map[ChangeKey]struct{}),
		pending: make(map[string]pendingNotify),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func clampDelay(d time.Duration) time.Duration {
	if d < MinDelay {
		return MinDelay
	}
	return d
}

// SetDelay changes the delay used for notifications scheduled from now on.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = clampDelay(delay)
	d.mu.Unlock()
}

// Delay returns the effective notification delay.
func (d *Debouncer) Delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

// Submit records a change to path. It returns false if the event was a
// duplicate within the current window or could not be scheduled.
func (d *Debouncer) Submit(path string) bool {
	key := KeyAt(path, d.now())

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		logging.Debugf("debounce: duplicate change for %s in bucket %d", path, key.Bucket)
		return false
	}
	d.seen[key] = struct{}{}

	if prev, ok := d.pending[path]; ok {
		if prev.task.Cancel() {
			logging.Debugf("debounce: superseded pending notification for %s", path)
		}
		delete(d.pending, path)
	}

	d.gen++
	gen := d.gen
	task, err := d.sched.Schedule(d.delay, func() { d.fire(path, gen) })
	if err != nil {
		delete(d.seen, key)
		logging.Warnf("debounce: could not schedule notification for %s: %v", path, err)
		return false
	}
	d.pending[path] = pendingNotify{task: task, gen: gen}
	return true
}

func (d *Debouncer) fire(path string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || p.gen != gen {
		// Superseded or cleared.
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	d.notify(filepath.Base(path))
	d.Purge()
}

// Purge evicts keys more than PurgeAfterBuckets older than now.
func (d *Debouncer) Purge() int {
	current := bucketOf(d.now())

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key := range d.seen {
		if current-key.Bucket > PurgeAfterBuckets {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached keys.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Pending returns the number of files with a notification not yet delivered.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Clear cancels pending notifications and empties the cache.
func (d *Debouncer) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pending {
		p.task.Cancel()
	}
	d.pending = make(map[string]pendingNotify)
	d.seen = make(map[ChangeKey]struct{})
}
