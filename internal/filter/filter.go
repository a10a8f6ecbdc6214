// Package filter decides whether a raw file-change event is relevant to the
// running live-reload service.
package filter

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/logging"
)

// Filter holds the rules and project roots used to accept events.
// It is safe for concurrent use; rules and roots may change while running.
type Filter struct {
	running func() bool

	mu         sync.RWMutex
	enabled    bool
	extensions config.StringSet
	excluded   config.StringSet
	activeRoot string
	openRoots  []string
}

// New returns a Filter that consults running on every event.
func New(running func() bool) *Filter {
	return &Filter{
		running:    running,
		extensions: make(config.StringSet),
		excluded:   make(config.StringSet),
	}
}

// SetRules applies the enabled switch, watched extensions and excluded
// folders from cfg.
func (f *Filter) SetRules(cfg config.ServerConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = cfg.Enabled
	f.extensions = cfg.WatchedExtensions
	f.excluded = cfg.ExcludedFolders
}

// SetRoots binds the active project root and the set of open project roots.
// The open roots are only consulted when no active root is bound.
func (f *Filter) SetRoots(active string, open []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeRoot = cleanRoot(active)
	f.openRoots = f.openRoots[:0]
	for _, r := range open {
		if r = cleanRoot(r); r != "" {
			f.openRoots = append(f.openRoots, r)
		}
	}
}

// ActiveRoot returns the bound project root, if any.
func (f *Filter) ActiveRoot() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.activeRoot
}

func cleanRoot(root string) string {
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

// Keep reports whether an event on path should be debounced and broadcast.
// Dropped events are logged at debug level only.
func (f *Filter) Keep(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.enabled {
		logging.Debugf("filter: live reload disabled, ignoring %s", path)
		return false
	}
	if f.running != nil && !f.running() {
		logging.Debugf("filter: service not running, ignoring %s", path)
		return false
	}

	abs := path
	if !filepath.IsAbs(abs) {
		var err error
		if abs, err = filepath.Abs(path); err != nil {
			return false
		}
	}
	abs = filepath.Clean(abs)

	rel, ok := f.relativeToRoot(abs)
	if !ok {
		logging.Debugf("filter: %s is outside the project", path)
		return false
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), ".")
	if ext == "" || !f.extensions.Has(ext) {
		logging.Debugf("filter: extension of %s is not watched", path)
		return false
	}

	if ex, hit := excludedBy(rel, f.excluded); hit {
		logging.Debugf("filter: %s is under excluded folder %s", path, ex)
		return false
	}
	return true
}

// relativeToRoot returns the slash-separated path of abs relative to the
// active root, or to the first open root containing it.
func (f *Filter) relativeToRoot(abs string) (string, bool) {
	if f.activeRoot != "" {
		return within(f.activeRoot, abs)
	}
	for _, root := range f.openRoots {
		if rel, ok := within(root, abs); ok {
			return rel, true
		}
	}
	return "", false
}

func within(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// excludedBy reports the excluded folder that contains rel. A folder matches
// at any segment boundary: "node_modules" excludes both
// "node_modules/x.js" and "pkg/node_modules/x.js".
func excludedBy(rel string, excluded config.StringSet) (string, bool) {
	rel = strings.ToLower(rel)
	for ex := range excluded {
		for start := 0; start < len(rel); {
			rest := rel[start:]
			if rest == ex || strings.HasPrefix(rest, ex+"/") {
				return ex, true
			}
			next := strings.IndexByte(rest, '/')
			if next < 0 {
				break
			}
			start += next + 1
		}
	}
	return "", false
}

// Excluded reports whether the project-relative slash path rel lies in one
// of the excluded folders. Scanners use it to prune whole directories.
func Excluded(rel string, excluded config.StringSet) bool {
	_, hit := excludedBy(rel, excluded)
	return hit
}
