// Package orchestrator owns the live-reload service lifecycle. It wires the
// event source, project filter, debouncer, reload hub and auto-stop
// supervisor together and serializes start and stop.
package orchestrator

import (
	"time"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/hub"
	"github.com/pseudocoder/livereload/internal/logging"
)

// State is the service lifecycle state.
type State string

const (
	// StateStopped means no hub, pool or subscription is held.
	StateStopped State = "STOPPED"
	// StateStarting means a start is acquiring ports and resources.
	StateStarting State = "STARTING"
	// StateRunning means file events are accepted and broadcast.
	StateRunning State = "RUNNING"
)

// StopReason records why a run ended.
type StopReason string

const (
	ReasonUser     StopReason = "user"
	ReasonAutoStop StopReason = "auto-stop"
	ReasonRestart  StopReason = "restart"
	ReasonShutdown StopReason = "shutdown"
)

// Status is a point-in-time view of the service.
type Status struct {
	State          State
	RunID          string
	ProjectRoot    string
	WebSocketPort  int
	Connections    int
	StartedAt      time.Time
	LastDisconnect time.Time
	LastStop       StopReason
	Config         config.ServerConfig
}

// ReloadHub is the WebSocket side of the service. *hub.Hub implements it.
type ReloadHub interface {
	Start(port int) error
	Stop() error
	BroadcastReload(file string) int
	ConnectionCount() int
	SetConnectionsChangedHandler(fn func(count int))
}

// Observer is told about every lifecycle transition and hot config change.
type Observer interface {
	ServiceChanged(st Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(st Status)

// ServiceChanged calls f(st).
func (f ObserverFunc) ServiceChanged(st Status) { f(st) }

// Notifier surfaces user-visible notices such as an auto-stop.
type Notifier interface {
	Notify(title, message string)
}

type logNotifier struct{}

func (logNotifier) Notify(title, message string) {
	logging.Infof("%s: %s", title, message)
}

// Journal records runs and broadcasts. Failures are logged and never
// interrupt the service.
type Journal interface {
	RecordStart(runID, projectRoot string, wsPort int, at time.Time) error
	RecordStop(runID string, reason string, at time.Time) error
	RecordBroadcast(runID, file, kind string, recipients int, at time.Time) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHubFactory replaces the hub constructor.
func WithHubFactory(fn func() ReloadHub) Option {
	return func(o *Orchestrator) { o.newHub = fn }
}

// WithPortResolver replaces the WebSocket port probe.
func WithPortResolver(fn func(port int, search bool) (int, error)) Option {
	return func(o *Orchestrator) { o.resolve = fn }
}

// WithNotifier sets where user-visible notices go. The default logs them.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithJournal records runs and broadcasts.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithClock injects the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithShutdownGrace bounds how long Stop waits for in-flight tasks.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.grace = d }
}

func defaultHub() ReloadHub {
	return hub.New()
}
