// Package watcher forwards OS file notifications for directories outside the
// project scanner's reach (build output, linked asset folders) as vfs events.
package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/vfs"
)

// Watcher wraps an fsnotify watcher over a set of directory trees.
// A failed Add disables the watcher until the next Start.
type Watcher struct {
	onEvent func(vfs.Event)

	mu       sync.Mutex
	fw       *fsnotify.Watcher
	done     chan struct{}
	paths    []string
	disabled bool
}

// New creates a stopped watcher delivering events to onEvent.
func New(onEvent func(vfs.Event)) *Watcher {
	return &Watcher{onEvent: onEvent}
}

// Start watches every existing directory under paths. Missing paths are
// skipped with a warning. Calling Start on a running watcher replaces its
// path set.
func (w *Watcher) Start(paths []string) error {
	w.Stop()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setDisabled(true)
		return apperrors.WatcherFault("", err)
	}

	var watched []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			logging.Warnf("watcher: skipping %s: %v", p, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			logging.Warnf("watcher: skipping %s: not a directory", abs)
			continue
		}
		if err := addRecursive(fw, abs); err != nil {
			fw.Close()
			w.setDisabled(true)
			logging.Errorf("watcher: disabled after failing to watch %s: %v", abs, err)
			return apperrors.WatcherFault(abs, err)
		}
		watched = append(watched, abs)
	}
	sort.Strings(watched)

	done := make(chan struct{})
	w.mu.Lock()
	w.fw = fw
	w.done = done
	w.paths = watched
	w.disabled = false
	w.mu.Unlock()

	go w.loop(fw, done)
	logging.Infof("watcher: watching %d external path(s)", len(watched))
	return nil
}

// SetPaths restarts the watcher over a new path set.
func (w *Watcher) SetPaths(paths []string) error {
	return w.Start(paths)
}

// Stop closes the OS watcher and waits for the event loop to exit.
// Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, done := w.fw, w.done
	w.fw, w.done, w.paths = nil, nil, nil
	w.mu.Unlock()

	if fw == nil {
		return
	}
	fw.Close()
	<-done
}

// Paths returns the watched root directories.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

// Disabled reports whether the last Start failed.
func (w *Watcher) Disabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disabled
}

func (w *Watcher) setDisabled(v bool) {
	w.mu.Lock()
	w.disabled = v
	w.mu.Unlock()
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.Warnf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	kind, ok := kindOf(ev.Op)
	if !ok {
		return
	}

	if kind == vfs.Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(fw, ev.Name); err != nil {
				logging.Warnf("watcher: cannot watch new directory %s: %v", ev.Name, err)
			}
			return
		}
	}

	if w.onEvent != nil {
		w.onEvent(vfs.Event{Path: ev.Name, Kind: kind})
	}
}

// kindOf maps an fsnotify op to an event kind. Chmod alone is ignored.
// Rename reports the old name, so it is a delete here; the new name
// arrives as a separate Create.
func kindOf(op fsnotify.Op) (vfs.Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return vfs.Created, true
	case op.Has(fsnotify.Write):
		return vfs.ContentChanged, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return vfs.Deleted, true
	default:
		return "", false
	}
}

func addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" && path != dir {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
