// Package app is the single owning context of a live-reload session. It
// starts the reload service, the project scanner, the content server and the
// optional LAN advertisement together, and tears them down together.
package app

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/contentserver"
	"github.com/pseudocoder/livereload/internal/filter"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/mdns"
	"github.com/pseudocoder/livereload/internal/orchestrator"
	"github.com/pseudocoder/livereload/internal/portprobe"
	"github.com/pseudocoder/livereload/internal/vfs"
)

// Options configures an App.
type Options struct {
	// Journal records runs and broadcasts. Optional.
	Journal orchestrator.Journal

	// Notifier surfaces auto-stop notices. Defaults to the log.
	Notifier orchestrator.Notifier

	// Orchestrator and Content pass extra options through.
	Orchestrator []orchestrator.Option
	Content      []contentserver.Option
}

// App ties the services to one project.
type App struct {
	store   *config.Store
	bus     *vfs.Bus
	orch    *orchestrator.Orchestrator
	content *contentserver.Server

	mu       sync.Mutex
	root     string
	scanner  *vfs.Scanner
	advert   *mdns.Advertiser
	excluded config.StringSet
	script   contentserver.ScriptOptions
	done     chan struct{}

	requestedHTTP int
	servedHTTP    int
}

// New builds an App over store. Nothing is started.
func New(store *config.Store, opts Options) *App {
	a := &App{
		store:    store,
		bus:      vfs.NewBus(),
		excluded: make(config.StringSet),
		done:     make(chan struct{}),
	}

	var orchOpts []orchestrator.Option
	if opts.Journal != nil {
		orchOpts = append(orchOpts, orchestrator.WithJournal(opts.Journal))
	}
	if opts.Notifier != nil {
		orchOpts = append(orchOpts, orchestrator.WithNotifier(opts.Notifier))
	}
	orchOpts = append(orchOpts, opts.Orchestrator...)
	a.orch = orchestrator.New(store, a.bus, orchOpts...)
	a.orch.AddObserver(a)

	contentOpts := append([]contentserver.Option{contentserver.WithStatusProvider(a)}, opts.Content...)
	a.content = contentserver.New(contentOpts...)
	return a
}

// Orchestrator exposes the reload service.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Content exposes the content server.
func (a *App) Content() *contentserver.Server { return a.content }

// Done is closed once the service has stopped on its own (auto-stop).
// A later Start arms a fresh channel.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Start runs everything for root (the configured project, then the working
// directory, when empty) and returns the base URL of the content server.
func (a *App) Start(root string) (string, error) {
	root, err := a.resolveRoot(root)
	if err != nil {
		return "", err
	}

	if err := a.orch.StartForProject(root); err != nil {
		return "", err
	}

	cfg := a.store.Get()
	snap, err := cfg.Snapshot()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.root = root
	a.excluded = snap.ExcludedFolders
	select {
	case <-a.done:
		a.done = make(chan struct{})
	default:
	}
	a.mu.Unlock()

	a.startScanner(root, snap.ScanInterval)

	base, err := a.startContent(root, snap)
	if err != nil {
		a.orch.Stop()
		a.stopScanner()
		return "", err
	}

	a.syncAdvertiser(root, cfg.MdnsEnabled)
	return base, nil
}

// Open is "run with live reload": it makes sure the services run for root
// and returns the URL of file on the content server.
func (a *App) Open(root, file string) (string, error) {
	base, err := a.Start(root)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	root = a.root
	a.mu.Unlock()
	return FileURL(base, root, file), nil
}

// Stop stops every service. The App can be started again.
func (a *App) Stop() error {
	err := a.orch.Stop()
	a.teardown()
	return err
}

// Close stops every service on process exit.
func (a *App) Close() error {
	err := a.orch.Shutdown()
	a.teardown()
	return err
}

// Reload applies a re-read configuration file.
func (a *App) Reload(next config.Config) error {
	prev := a.store.Get()

	change, err := a.orch.ApplyConfig(next)
	if err != nil {
		return err
	}

	a.mu.Lock()
	root := a.root
	requested, served := a.requestedHTTP, a.servedHTTP
	a.mu.Unlock()

	// A port found by searching stays bound while the file still names
	// the port it was searched from.
	if a.content.Running() && (next.HTTPPort == requested || next.HTTPPort == served) {
		a.store.SetHTTPPort(served)
	}

	snap, err := a.store.Snapshot()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.excluded = snap.ExcludedFolders
	a.mu.Unlock()

	if !a.content.Running() || root == "" {
		return nil
	}

	if snap.ScanInterval != mustSnapshot(prev).ScanInterval {
		a.stopScanner()
		a.startScanner(root, snap.ScanInterval)
	}

	if !a.content.Serving(snap.HTTPPort, root, a.orch.WebSocketPort()) {
		logging.Infof("app: restarting content server for new ports")
		if _, err := a.startContent(root, snap); err != nil {
			return err
		}
	} else if change.ClientChanged {
		a.setScript(contentserver.ScriptOptionsFrom(snap))
	}

	a.syncAdvertiser(root, next.MdnsEnabled)
	return nil
}

// Status reports the live state for the status endpoint.
func (a *App) Status() contentserver.Status {
	st := a.orch.Status()
	out := contentserver.Status{
		Running:       st.State == orchestrator.StateRunning,
		HTTPPort:      a.content.Port(),
		WebSocketPort: st.WebSocketPort,
		Connections:   st.Connections,
		ProjectRoot:   st.ProjectRoot,
	}
	if !st.LastDisconnect.IsZero() {
		out.LastDisconnectMs = st.LastDisconnect.UnixMilli()
	}
	if out.Running && !st.StartedAt.IsZero() {
		out.UptimeSeconds = int64(time.Since(st.StartedAt) / time.Second)
	}
	return out
}

// ServiceChanged follows the reload service: client settings are pushed
// into the injected script and an auto-stop ends the whole session.
func (a *App) ServiceChanged(st orchestrator.Status) {
	switch st.State {
	case orchestrator.StateRunning:
		a.setScript(contentserver.ScriptOptionsFrom(st.Config))
	case orchestrator.StateStopped:
		if st.LastStop == orchestrator.ReasonAutoStop {
			// Observers run inside the service's stop path.
			go func() {
				a.teardown()
				a.signalDone()
			}()
		}
	}
}

func (a *App) setScript(opts contentserver.ScriptOptions) {
	a.mu.Lock()
	if a.script == opts {
		a.mu.Unlock()
		return
	}
	a.script = opts
	a.mu.Unlock()
	a.content.SetScriptOptions(opts)
}

func (a *App) signalDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *App) resolveRoot(root string) (string, error) {
	if root == "" {
		root = a.store.Get().Project
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Abs(root)
}

func (a *App) startContent(root string, snap config.ServerConfig) (string, error) {
	wsPort := a.orch.WebSocketPort()
	port := snap.HTTPPort

	// The probe would report our own listener as busy.
	a.mu.Lock()
	requested, served := a.requestedHTTP, a.servedHTTP
	a.mu.Unlock()
	own := a.content.Running() && port == served
	if !own {
		resolved, err := portprobe.Resolve(port, snap.SearchFreePort)
		if err != nil {
			return "", err
		}
		requested = port
		if resolved != port {
			logging.Infof("app: http port %d busy, using %d", port, resolved)
			a.store.SetHTTPPort(resolved)
			port = resolved
		}
	}

	a.setScript(contentserver.ScriptOptionsFrom(snap))
	base, err := a.content.Start(port, root, wsPort)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.requestedHTTP = requested
	a.servedHTTP = port
	a.mu.Unlock()
	return base, nil
}

func (a *App) startScanner(root string, interval time.Duration) {
	s := vfs.NewScanner(vfs.ScannerConfig{
		Root:         root,
		PollInterval: interval,
		Skip:         a.skip,
		OnEvents:     func(events []vfs.Event) { a.bus.Publish(events...) },
		OnError:      func(err error) { logging.Warnf("app: %v", err) },
	})

	a.mu.Lock()
	if a.scanner != nil && a.scanner.Root() == root {
		a.mu.Unlock()
		return
	}
	old := a.scanner
	a.scanner = s
	a.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	s.Start()
}

func (a *App) stopScanner() {
	a.mu.Lock()
	s := a.scanner
	a.scanner = nil
	a.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (a *App) skip(rel string, isDir bool) bool {
	if !isDir {
		return false
	}
	a.mu.Lock()
	excluded := a.excluded
	a.mu.Unlock()
	return filter.Excluded(rel, excluded)
}

// syncAdvertiser starts, restarts or stops the LAN advertisement so it
// matches enabled and the current ports.
func (a *App) syncAdvertiser(root string, enabled bool) {
	a.mu.Lock()
	old := a.advert
	a.mu.Unlock()

	if !enabled {
		if old != nil {
			a.mu.Lock()
			a.advert = nil
			a.mu.Unlock()
			old.Stop()
		}
		return
	}

	cfg := mdns.Config{
		Port:          a.content.Port(),
		WebSocketPort: a.orch.WebSocketPort(),
		Project:       filepath.Base(root),
	}
	if old != nil && old.IsRunning() && old.Config() == cfg {
		return
	}

	adv := mdns.NewAdvertiser(cfg)
	if old != nil {
		old.Stop()
	}
	if err := adv.Start(); err != nil {
		logging.Warnf("app: mdns advertisement failed: %v", err)
		adv = nil
	} else {
		logging.Infof("app: advertising %s on the local network", mdns.ServiceType)
	}

	a.mu.Lock()
	a.advert = adv
	a.mu.Unlock()
}

func (a *App) teardown() {
	a.stopScanner()
	a.content.Stop()

	a.mu.Lock()
	adv := a.advert
	a.advert = nil
	a.mu.Unlock()
	if adv != nil {
		adv.Stop()
	}
}

// FileURL maps file to its URL under base. Files outside root are served
// by base name; each path segment is escaped.
func FileURL(base, root, file string) string {
	if file == "" {
		return base + "/"
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return base + "/" + url.PathEscape(filepath.Base(file))
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return base + "/" + url.PathEscape(filepath.Base(abs))
	}
	if rel == "." {
		return base + "/"
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return base + "/" + strings.Join(segments, "/")
}

func mustSnapshot(cfg config.Config) config.ServerConfig {
	snap, _ := cfg.Snapshot()
	return snap
}
