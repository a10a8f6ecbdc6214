package orchestrator

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/debounce"
	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/filter"
	"github.com/pseudocoder/livereload/internal/hub"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/portprobe"
	"github.com/pseudocoder/livereload/internal/scheduler"
	"github.com/pseudocoder/livereload/internal/vfs"
	"github.com/pseudocoder/livereload/internal/watcher"
)

// Orchestrator is the single owner of a live-reload service run.
// Start, Stop and ApplyConfig are mutually exclusive.
type Orchestrator struct {
	store    *config.Store
	source   vfs.Source
	filter   *filter.Filter
	newHub   func() ReloadHub
	resolve  func(port int, search bool) (int, error)
	notifier Notifier
	journal  Journal
	now      func() time.Time
	grace    time.Duration

	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	cfg       config.ServerConfig
	root      string
	openRoots []string
	runID     string
	startedAt time.Time
	wsPort    int
	lastStop  StopReason
	hub       ReloadHub
	pool      *scheduler.Pool
	debouncer *debounce.Debouncer
	auto      *autoStop
	watcher   *watcher.Watcher
	unsub     func()
	observers []Observer

	// requestedWS is the configured port before any free-port search.
	requestedWS int
}

// New creates a stopped orchestrator reading settings from store and
// events from source. source may be nil when events are pushed through
// HandleEvent directly.
func New(store *config.Store, source vfs.Source, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		source:   source,
		newHub:   defaultHub,
		resolve:  portprobe.Resolve,
		notifier: logNotifier{},
		now:      time.Now,
		grace:    scheduler.DefaultShutdownGrace,
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.filter = filter.New(o.IsRunning)
	return o
}

// AddObserver registers an observer for lifecycle transitions.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// SetOpenRoots records the roots of every open project. They are used to
// accept events when no single project is active.
func (o *Orchestrator) SetOpenRoots(roots []string) {
	o.mu.Lock()
	o.openRoots = append([]string(nil), roots...)
	active := o.root
	o.mu.Unlock()
	o.filter.SetRoots(active, roots)
}

// Start starts the service for the configured project, or for all open
// projects when none is configured.
func (o *Orchestrator) Start() error {
	return o.StartForProject(o.store.Get().Project)
}

// StartForProject starts the service bound to root. When already running
// it only rebinds the active project.
func (o *Orchestrator) StartForProject(root string) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.start(root)
}

func (o *Orchestrator) start(root string) error {
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return apperrors.ConfigInvalid("project", err.Error())
		}
		root = abs
	}

	o.mu.Lock()
	if o.state != StateStopped {
		rebind := root != "" && root != o.root
		if rebind {
			o.root = root
		}
		open := o.openRoots
		o.mu.Unlock()
		if rebind {
			o.filter.SetRoots(root, open)
			logging.Infof("orchestrator: already running, active project is now %s", root)
			return nil
		}
		logging.Warnf("orchestrator: start requested while already running")
		return nil
	}
	o.mu.Unlock()

	cfg, err := o.store.Snapshot()
	if err != nil {
		return err
	}

	o.setState(StateStarting)

	requested := cfg.WebSocketPort
	port, err := o.resolve(cfg.WebSocketPort, cfg.SearchFreePort)
	if err != nil {
		o.setState(StateStopped)
		logging.Errorf("orchestrator: websocket port %d unavailable: %v", cfg.WebSocketPort, err)
		return err
	}
	if port != cfg.WebSocketPort {
		logging.Infof("orchestrator: websocket port %d busy, using %d", cfg.WebSocketPort, port)
		o.store.SetWebSocketPort(port)
		cfg.WebSocketPort = port
	}

	pool := scheduler.New("reload", cfg.ThreadPoolSize)

	h := o.newHub()
	h.SetConnectionsChangedHandler(o.connectionsChanged)
	if err := h.Start(port); err != nil {
		pool.Shutdown(o.grace)
		o.setState(StateStopped)
		return err
	}

	runID := uuid.NewString()
	deb := debounce.New(pool, cfg.EffectiveRefreshDelay(), func(name string) { o.NotifyFileChanged(name) })
	auto := newAutoStop(pool, h.ConnectionCount, o.IsRunning, o.autoStopFired(runID), o.now)

	o.mu.Lock()
	o.cfg = cfg
	o.root = root
	o.runID = runID
	o.startedAt = o.now()
	o.wsPort = port
	o.requestedWS = requested
	o.hub = h
	o.pool = pool
	o.debouncer = deb
	o.auto = auto
	open := o.openRoots
	o.mu.Unlock()

	o.filter.SetRules(cfg)
	o.filter.SetRoots(root, open)

	var unsub func()
	if o.source != nil {
		unsub = o.source.Subscribe(o.HandleEvent)
	}
	w := watcher.New(o.HandleEvent)
	if cfg.WatchExternalChanges {
		o.startWatcher(w, root, cfg)
	}

	o.mu.Lock()
	o.unsub = unsub
	o.watcher = w
	o.state = StateRunning
	o.mu.Unlock()

	auto.setup(cfg.AutoStopEnabled, cfg.AutoStopDelay)

	if o.journal != nil {
		if err := o.journal.RecordStart(runID, root, port, o.now()); err != nil {
			logging.Warnf("orchestrator: journal start: %v", err)
		}
	}
	logging.Infof("orchestrator: live reload running on ws://localhost:%d (project %s)", port, displayRoot(root))
	o.notifyObservers()
	return nil
}

// Stop stops the service. Stopping a stopped service only logs a warning.
func (o *Orchestrator) Stop() error {
	_, err := o.stopRun("", ReasonUser)
	return err
}

// Shutdown stops a running service on process exit. It is silent when the
// service is already stopped.
func (o *Orchestrator) Shutdown() error {
	if !o.IsRunning() {
		return nil
	}
	_, err := o.stopRun("", ReasonShutdown)
	return err
}

// stopRun stops the current run. A non-empty runID must match the current
// run, so a late auto-stop cannot end a newer run.
func (o *Orchestrator) stopRun(runID string, reason StopReason) (bool, error) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.stop(runID, reason)
}

func (o *Orchestrator) stop(runID string, reason StopReason) (bool, error) {
	o.mu.Lock()
	if o.state != StateRunning || (runID != "" && runID != o.runID) {
		o.mu.Unlock()
		if runID == "" {
			logging.Warnf("orchestrator: stop requested while not running")
		}
		return false, nil
	}
	auto, unsub, w, h, pool, deb := o.auto, o.unsub, o.watcher, o.hub, o.pool, o.debouncer
	currentRun := o.runID
	o.mu.Unlock()

	auto.cancel()
	if unsub != nil {
		unsub()
	}
	w.Stop()
	// Pending notifications are dropped before the pool drains.
	deb.Clear()
	if err := h.Stop(); err != nil {
		logging.Warnf("orchestrator: hub stop: %v", err)
	}

	var shutdownErr error
	if err := pool.Shutdown(o.grace); err != nil {
		shutdownErr = err
	}

	o.mu.Lock()
	o.state = StateStopped
	o.lastStop = reason
	o.hub = nil
	o.pool = nil
	o.debouncer = nil
	o.auto = nil
	o.watcher = nil
	o.unsub = nil
	o.mu.Unlock()

	if o.journal != nil {
		if err := o.journal.RecordStop(currentRun, string(reason), o.now()); err != nil {
			logging.Warnf("orchestrator: journal stop: %v", err)
		}
	}
	logging.Infof("orchestrator: live reload stopped (%s)", reason)
	o.notifyObservers()

	if shutdownErr != nil && apperrors.IsCode(shutdownErr, apperrors.CodeExecutorShutdownTimeout) {
		return true, nil
	}
	return true, shutdownErr
}

// Restart stops the current run and starts again for the same project.
func (o *Orchestrator) Restart() error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.restart()
}

func (o *Orchestrator) restart() error {
	o.mu.Lock()
	root := o.root
	o.mu.Unlock()

	if _, err := o.stop("", ReasonRestart); err != nil {
		return err
	}
	return o.start(root)
}

// IsRunning reports whether the service is RUNNING.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveConnections returns the number of open browser sessions.
func (o *Orchestrator) ActiveConnections() int {
	o.mu.Lock()
	h := o.hub
	o.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.ConnectionCount()
}

// LastDisconnect returns when the connection count last reached zero, or
// the zero time if a browser is connected or none has disconnected yet.
func (o *Orchestrator) LastDisconnect() time.Time {
	o.mu.Lock()
	a := o.auto
	o.mu.Unlock()
	if a == nil {
		return time.Time{}
	}
	return a.lastDisconnectAt()
}

// WebSocketPort returns the bound port of the current run, or 0.
func (o *Orchestrator) WebSocketPort() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return 0
	}
	return o.wsPort
}

// Status returns a snapshot of the service.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		State:       o.state,
		RunID:       o.runID,
		ProjectRoot: o.root,
		StartedAt:   o.startedAt,
		LastStop:    o.lastStop,
		Config:      o.cfg,
	}
	if o.state == StateRunning {
		st.WebSocketPort = o.wsPort
	}
	o.mu.Unlock()

	st.Connections = o.ActiveConnections()
	st.LastDisconnect = o.LastDisconnect()
	return st
}

// NotifyFileChanged broadcasts a reload for name to every connected
// browser. It returns the number of sessions reached.
func (o *Orchestrator) NotifyFileChanged(name string) int {
	o.mu.Lock()
	h, running, runID := o.hub, o.state == StateRunning, o.runID
	o.mu.Unlock()

	if !running || h == nil {
		logging.Warnf("orchestrator: change to %s ignored, service not running", name)
		return 0
	}

	n := h.BroadcastReload(name)
	logging.Infof("orchestrator: %s changed, notified %d browser(s)", name, n)
	if o.journal != nil {
		if err := o.journal.RecordBroadcast(runID, name, string(hub.KindFor(name)), n, o.now()); err != nil {
			logging.Warnf("orchestrator: journal broadcast: %v", err)
		}
	}
	return n
}

// HandleEvent routes one file event through the filter and debouncer.
func (o *Orchestrator) HandleEvent(ev vfs.Event) {
	if !ev.Kind.Notifies() {
		logging.Debugf("orchestrator: %s %s", ev.Path, ev.Kind)
		return
	}
	if !o.filter.Keep(ev.Path) {
		return
	}

	o.mu.Lock()
	deb := o.debouncer
	o.mu.Unlock()
	if deb == nil {
		return
	}
	deb.Submit(ev.Path)
}

func (o *Orchestrator) connectionsChanged(n int) {
	o.mu.Lock()
	a, running := o.auto, o.state == StateRunning
	o.mu.Unlock()

	if !running || a == nil {
		return
	}
	logging.Debugf("orchestrator: %d browser connection(s)", n)
	a.connectionsChanged(n)
	o.notifyObservers()
}

func (o *Orchestrator) autoStopFired(runID string) func(time.Duration) {
	return func(idle time.Duration) {
		// The check runs on the pool that stop shuts down.
		go func() {
			logging.Infof("orchestrator: no browser connections for %s, stopping", idle)
			stopped, err := o.stopRun(runID, ReasonAutoStop)
			if err != nil {
				logging.Warnf("orchestrator: auto-stop: %v", err)
			}
			if stopped {
				o.notifier.Notify("Live reload", "Server stopped after "+idle.String()+" without browser connections")
			}
		}()
	}
}

func (o *Orchestrator) startWatcher(w *watcher.Watcher, root string, cfg config.ServerConfig) {
	paths := externalPaths(root, cfg.ExternalWatchPaths)
	if len(paths) == 0 {
		logging.Debugf("orchestrator: external watching enabled with no paths")
		w.Stop()
		return
	}
	if err := w.Start(paths); err != nil {
		logging.Warnf("orchestrator: external watcher disabled: %v", err)
	}
}

// externalPaths resolves configured watch paths against root.
func externalPaths(root string, set config.StringSet) []string {
	var out []string
	for _, p := range set.Sorted() {
		p = filepath.FromSlash(p)
		if !filepath.IsAbs(p) {
			if root == "" {
				continue
			}
			p = filepath.Join(root, p)
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.notifyObservers()
}

func (o *Orchestrator) notifyObservers() {
	o.mu.Lock()
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	st := o.Status()
	for _, obs := range observers {
		obs.ServiceChanged(st)
	}
}

func displayRoot(root string) string {
	if root == "" {
		return "all open projects"
	}
	return root
}
