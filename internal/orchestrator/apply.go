package orchestrator

import (
	"strings"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/logging"
)

// ApplyConfig stores next and brings a running service in line with it.
// Port, pool size and free-port search changes restart the service; every
// other field is applied in place. The returned Change describes what
// differed from the running snapshot.
func (o *Orchestrator) ApplyConfig(next config.Config) (config.Change, error) {
	newSnap, err := next.Snapshot()
	if err != nil {
		return config.Change{}, err
	}

	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.store.Replace(next)

	o.mu.Lock()
	running := o.state == StateRunning
	oldSnap := o.cfg
	o.mu.Unlock()

	if !running {
		o.filter.SetRules(newSnap)
		return config.Change{}, nil
	}

	// A port found by free-port search is not a user change as long as
	// the configured port is the one the run started from.
	o.mu.Lock()
	bound, requested := o.wsPort, o.requestedWS
	o.mu.Unlock()
	if newSnap.WebSocketPort == requested || newSnap.WebSocketPort == bound {
		oldSnap.WebSocketPort = newSnap.WebSocketPort
		if bound != newSnap.WebSocketPort {
			o.store.SetWebSocketPort(bound)
		}
	}
	// The content server port belongs to the application, not the run.
	oldSnap.HTTPPort = newSnap.HTTPPort

	change := config.Diff(oldSnap, newSnap)
	if change.Empty() {
		return change, nil
	}
	logging.Infof("orchestrator: configuration changed: %s", strings.Join(change.Fields, ", "))

	if change.RestartRequired {
		logging.Infof("orchestrator: restarting to apply new ports or pool size")
		return change, o.restart()
	}

	o.applyHot(newSnap, change)
	return change, nil
}

func (o *Orchestrator) applyHot(cfg config.ServerConfig, change config.Change) {
	o.mu.Lock()
	cfg.WebSocketPort = o.wsPort
	o.cfg = cfg
	deb, auto, w, root := o.debouncer, o.auto, o.watcher, o.root
	o.mu.Unlock()

	o.filter.SetRules(cfg)
	if change.DelayChanged {
		deb.SetDelay(cfg.EffectiveRefreshDelay())
	}
	if change.AutoStopChanged {
		auto.configure(cfg.AutoStopEnabled, cfg.AutoStopDelay)
	}
	if change.WatcherChanged {
		if cfg.WatchExternalChanges {
			o.startWatcher(w, root, cfg)
		} else {
			w.Stop()
		}
	}
	o.notifyObservers()
}
