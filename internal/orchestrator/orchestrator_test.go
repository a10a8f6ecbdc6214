package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudocoder/livereload/internal/config"
	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/vfs"
)

type fakeHub struct {
	mu         sync.Mutex
	port       int
	starts     int
	stops      int
	startErr   error
	count      int
	handler    func(int)
	broadcasts []string
}

func (f *fakeHub) Start(port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.port = port
	f.starts++
	return nil
}

func (f *fakeHub) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.count = 0
	return nil
}

func (f *fakeHub) BroadcastReload(file string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, file)
	return f.count
}

func (f *fakeHub) ConnectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeHub) SetConnectionsChangedHandler(fn func(int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

// connect simulates the hub reporting a new session count.
func (f *fakeHub) connect(n int) {
	f.mu.Lock()
	f.count = n
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (f *fakeHub) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.broadcasts...)
}

type fakeJournal struct {
	mu         sync.Mutex
	starts     []string
	stops      []string
	broadcasts []string
}

func (j *fakeJournal) RecordStart(runID, root string, wsPort int, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.starts = append(j.starts, runID)
	return nil
}

func (j *fakeJournal) RecordStop(runID, reason string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stops = append(j.stops, reason)
	return nil
}

func (j *fakeJournal) RecordBroadcast(runID, file, kind string, recipients int, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.broadcasts = append(j.broadcasts, file+":"+kind)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fixture struct {
	o        *Orchestrator
	hub      *fakeHub
	hubs     int
	bus      *vfs.Bus
	store    *config.Store
	root     string
	journal  *fakeJournal
	notifier *fakeNotifier
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Project = root
	cfg.BrowserRefreshDelayMs = 50
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		hub:      &fakeHub{},
		bus:      vfs.NewBus(),
		store:    config.NewStore(cfg),
		root:     root,
		journal:  &fakeJournal{},
		notifier: &fakeNotifier{},
	}
	base := []Option{
		WithHubFactory(func() ReloadHub {
			f.hubs++
			return f.hub
		}),
		WithPortResolver(func(port int, search bool) (int, error) { return port, nil }),
		WithShutdownGrace(time.Second),
		WithJournal(f.journal),
		WithNotifier(f.notifier),
	}
	f.o = New(f.store, f.bus, append(base, opts...)...)
	t.Cleanup(func() { f.o.Shutdown() })
	return f
}

func (f *fixture) publish(rel string, kind vfs.Kind) {
	f.bus.Publish(vfs.Event{Path: filepath.Join(f.root, filepath.FromSlash(rel)), Kind: kind})
}

func TestStartAndStopTransitions(t *testing.T) {
	f := newFixture(t, nil)

	var mu sync.Mutex
	var states []State
	f.o.AddObserver(ObserverFunc(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}))

	require.NoError(t, f.o.Start())
	assert.True(t, f.o.IsRunning())
	assert.Equal(t, config.DefaultWebSocketPort, f.hub.port)
	assert.Equal(t, config.DefaultWebSocketPort, f.o.WebSocketPort())
	assert.Equal(t, 1, f.bus.Subscribers())

	require.NoError(t, f.o.Stop())
	assert.Equal(t, StateStopped, f.o.State())
	assert.Equal(t, 1, f.hub.stops)
	assert.Equal(t, 0, f.bus.Subscribers())
	assert.Equal(t, ReasonUser, f.o.Status().LastStop)

	// Stopping again is a warning, not an error.
	require.NoError(t, f.o.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopped}, states)
	assert.Equal(t, []string{"user"}, f.journal.stops)
	assert.Len(t, f.journal.starts, 1)
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())
	require.NoError(t, f.o.Start())
	assert.Equal(t, 1, f.hubs)
	assert.Equal(t, 1, f.hub.starts)
}

func TestStartForProjectRebindsWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	other := t.TempDir()
	require.NoError(t, f.o.StartForProject(other))
	assert.Equal(t, 1, f.hubs)
	assert.Equal(t, other, f.o.Status().ProjectRoot)

	f.bus.Publish(vfs.Event{Path: filepath.Join(other, "index.html"), Kind: vfs.ContentChanged})
	assert.Eventually(t, func() bool { return len(f.hub.sent()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestStartPortUnavailable(t *testing.T) {
	f := newFixture(t, nil, WithPortResolver(func(port int, search bool) (int, error) {
		return 0, apperrors.PortUnavailable(port, nil)
	}))

	err := f.o.Start()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodePortUnavailable))
	assert.Equal(t, StateStopped, f.o.State())
	assert.Zero(t, f.hubs)
}

func TestStartHubFailureLeavesStopped(t *testing.T) {
	f := newFixture(t, nil)
	f.hub.startErr = errors.New("bind failed")

	require.Error(t, f.o.Start())
	assert.Equal(t, StateStopped, f.o.State())
	assert.Equal(t, 0, f.bus.Subscribers())
}

func TestSearchedPortWrittenBack(t *testing.T) {
	f := newFixture(t, nil, WithPortResolver(func(port int, search bool) (int, error) {
		return port + 1, nil
	}))

	require.NoError(t, f.o.Start())
	assert.Equal(t, config.DefaultWebSocketPort+1, f.hub.port)
	assert.Equal(t, config.DefaultWebSocketPort+1, f.store.Get().WebSocketPort)
	assert.Equal(t, config.DefaultWebSocketPort+1, f.o.WebSocketPort())
}

func TestChangeBurstBroadcastsOnce(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	f.publish("app.css", vfs.ContentChanged)
	time.Sleep(30 * time.Millisecond)
	f.publish("app.css", vfs.ContentChanged)

	assert.Eventually(t, func() bool { return len(f.hub.sent()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"app.css"}, f.hub.sent())

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	assert.Equal(t, []string{"app.css:css-reload"}, f.journal.broadcasts)
}

func TestNotifyingKinds(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	f.publish("a.html", vfs.Created)
	f.publish("b.js", vfs.Renamed)
	f.publish("c.less", vfs.Moved)
	f.publish("d.html", vfs.Deleted)

	assert.Eventually(t, func() bool { return len(f.hub.sent()) == 3 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.ElementsMatch(t, []string{"a.html", "b.js", "c.less"}, f.hub.sent())
}

func TestFilteredEventsNeverBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	f.publish("notes.txt", vfs.ContentChanged)
	f.publish("node_modules/lib/index.js", vfs.ContentChanged)
	f.publish("src/.git/hooks/x.js", vfs.ContentChanged)
	f.bus.Publish(vfs.Event{Path: filepath.Join(t.TempDir(), "elsewhere.html"), Kind: vfs.ContentChanged})

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, f.hub.sent())
}

func TestDisabledSwitchDropsEvents(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Enabled = false })
	require.NoError(t, f.o.Start())

	f.publish("index.html", vfs.ContentChanged)
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, f.hub.sent())
}

func TestNotifyFileChangedWhenStopped(t *testing.T) {
	f := newFixture(t, nil)
	assert.Zero(t, f.o.NotifyFileChanged("index.html"))
	assert.Empty(t, f.hub.sent())
}

func TestEventsIgnoredAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())
	require.NoError(t, f.o.Stop())

	f.o.HandleEvent(vfs.Event{Path: filepath.Join(f.root, "index.html"), Kind: vfs.ContentChanged})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.hub.sent())
}

func TestStopCancelsPendingNotification(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.BrowserRefreshDelayMs = 300 })
	require.NoError(t, f.o.Start())

	f.publish("index.html", vfs.ContentChanged)
	begin := time.Now()
	require.NoError(t, f.o.Stop())
	assert.Less(t, time.Since(begin), 200*time.Millisecond, "Stop should not wait out the refresh delay")

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, f.hub.sent())
}

func TestConnectionCountAndLastDisconnect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, f.o.Start())

	f.hub.connect(2)
	assert.Equal(t, 2, f.o.ActiveConnections())
	assert.True(t, f.o.LastDisconnect().IsZero())

	f.hub.connect(0)
	assert.Equal(t, 0, f.o.ActiveConnections())
	assert.Equal(t, now, f.o.LastDisconnect())
}

func TestAutoStopStopsServiceOnce(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.AutoStopEnabled = true
		c.AutoStopDelaySeconds = 1
	})
	require.NoError(t, f.o.Start())

	f.hub.connect(1)
	f.hub.connect(0)

	assert.Eventually(t, func() bool { return !f.o.IsRunning() }, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, ReasonAutoStop, f.o.Status().LastStop)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.hub.stops)
}

func TestAutoStopNotArmedBeforeFirstBrowser(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.AutoStopEnabled = true
		c.AutoStopDelaySeconds = 1
	})
	require.NoError(t, f.o.Start())

	time.Sleep(1500 * time.Millisecond)
	assert.True(t, f.o.IsRunning())
	assert.Zero(t, f.notifier.count())
}

func TestAutoStopHeldOffByConnection(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.AutoStopEnabled = true
		c.AutoStopDelaySeconds = 1
	})
	require.NoError(t, f.o.Start())

	f.hub.connect(0)
	time.Sleep(300 * time.Millisecond)
	f.hub.connect(1)

	time.Sleep(1500 * time.Millisecond)
	assert.True(t, f.o.IsRunning())
	assert.Zero(t, f.notifier.count())
}

func TestApplyConfigHotUpdate(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	next := f.store.Get()
	next.WatchedExtensions = "txt"
	next.BrowserRefreshDelayMs = 60
	change, err := f.o.ApplyConfig(next)
	require.NoError(t, err)

	assert.False(t, change.RestartRequired)
	assert.True(t, change.ExtensionsChanged)
	assert.True(t, change.DelayChanged)
	assert.Equal(t, 1, f.hubs)

	f.publish("index.html", vfs.ContentChanged)
	f.publish("notes.txt", vfs.ContentChanged)
	assert.Eventually(t, func() bool { return len(f.hub.sent()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"notes.txt"}, f.hub.sent())
}

func TestApplyConfigRestartsOnCriticalChange(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Start())

	next := f.store.Get()
	next.ThreadPoolSize = 5
	change, err := f.o.ApplyConfig(next)
	require.NoError(t, err)

	assert.True(t, change.RestartRequired)
	assert.True(t, f.o.IsRunning())
	assert.Equal(t, 2, f.hubs)
	assert.Equal(t, 5, f.o.Status().Config.ThreadPoolSize)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	assert.Equal(t, []string{"restart"}, f.journal.stops)
}

func TestApplyConfigKeepsSearchedPort(t *testing.T) {
	f := newFixture(t, nil, WithPortResolver(func(port int, search bool) (int, error) {
		return port + 1, nil
	}))
	require.NoError(t, f.o.Start())

	// A reloaded file still names the originally configured port.
	next := f.store.Get()
	next.WebSocketPort = config.DefaultWebSocketPort
	change, err := f.o.ApplyConfig(next)
	require.NoError(t, err)

	assert.False(t, change.RestartRequired)
	assert.Equal(t, 1, f.hubs)
	assert.Equal(t, config.DefaultWebSocketPort+1, f.store.Get().WebSocketPort)
}

func TestApplyConfigWhileStopped(t *testing.T) {
	f := newFixture(t, nil)

	next := f.store.Get()
	next.HTTPPort = 9000
	change, err := f.o.ApplyConfig(next)
	require.NoError(t, err)
	assert.True(t, change.Empty())
	assert.Equal(t, 9000, f.store.Get().HTTPPort)
}

func TestApplyConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	next := f.store.Get()
	next.ThreadPoolSize = 0

	_, err := f.o.ApplyConfig(next)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigInvalid))
}

func TestExternalWatcherFeedsPipeline(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.WatchExternalChanges = true
		c.ExternalWatchPaths = "dist"
	})
	dist := filepath.Join(f.root, "dist")
	require.NoError(t, os.Mkdir(dist, 0o755))
	require.NoError(t, f.o.Start())

	require.NoError(t, os.WriteFile(filepath.Join(dist, "bundle.js"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		for _, name := range f.hub.sent() {
			if name == "bundle.js" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestExternalPaths(t *testing.T) {
	root := filepath.FromSlash("/proj")
	got := externalPaths(root, config.ParsePaths("dist, /abs/out"))
	assert.Equal(t, []string{filepath.FromSlash("/abs/out"), filepath.Join(root, "dist")}, got)
	assert.Empty(t, externalPaths("", config.ParsePaths("dist")))
}
