package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ScannerConfig configures the project scanner.
type ScannerConfig struct {
	Root         string
	PollInterval time.Duration
	// Skip, if set, prunes a project-relative slash path from the scan.
	Skip     func(rel string, isDir bool) bool
	OnEvents func([]Event)
	OnError  func(error)
}

// snapshotEntry holds metadata for a single file.
type snapshotEntry struct {
	size       int64
	modTime    time.Time
	symlinkTgt string
}

// Scanner detects file changes under a project root by periodic scanning.
// The first scan is a baseline and emits nothing.
type Scanner struct {
	config             ScannerConfig
	snapshot           map[string]snapshotEntry
	stopCh             chan struct{}
	doneCh             chan struct{}
	mu                 sync.Mutex
	running            bool
	stopping           bool
	scanning           bool
	lastErrorSignature string
}

// NewScanner creates a scanner (not started).
func NewScanner(config ScannerConfig) *Scanner {
	return &Scanner{config: config}
}

// Root returns the scanned directory.
func (s *Scanner) Root() string {
	return s.config.Root
}

// Start begins the poll loop in a background goroutine.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.stopping = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go s.pollLoop(stopCh, doneCh)
}

// Stop signals the poll loop to exit and waits for it to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.stopping {
		doneCh := s.doneCh
		s.mu.Unlock()
		<-doneCh
		return
	}

	s.stopping = true
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.stopping = false
	s.scanning = false
	s.lastErrorSignature = ""
	s.mu.Unlock()
}

func (s *Scanner) pollLoop(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	baseline, errPaths := s.scan()
	s.mu.Lock()
	s.snapshot = baseline
	s.mu.Unlock()
	s.reportScanErrors(errPaths)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs a single poll cycle with overlap protection.
func (s *Scanner) tick() {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return
	}
	s.scanning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	newSnap, errPaths := s.scan()
	s.reportScanErrors(errPaths)

	s.mu.Lock()
	oldSnap := s.snapshot
	s.snapshot = newSnap
	s.mu.Unlock()

	events := diffSnapshots(s.config.Root, oldSnap, newSnap, errPaths)
	if len(events) > 0 && s.config.OnEvents != nil {
		s.config.OnEvents(events)
	}
}

// scan walks the tree and returns a snapshot of all regular files and
// symlinks. It skips .git and special files. Paths that failed to scan are
// returned separately so they are not mistaken for deletions.
func (s *Scanner) scan() (map[string]snapshotEntry, map[string]bool) {
	root := s.config.Root
	snap := make(map[string]snapshotEntry)
	errPaths := make(map[string]bool)

	_ = filepath.Walk(root, func(absPath string, info os.FileInfo, err error) error {
		relPath, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if err != nil {
			// A path vanishing mid-scan is a real delete, not a scan error.
			if os.IsNotExist(err) && relPath != "." {
				return nil
			}
			errPaths[relPath] = true
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if relPath == "." {
			return nil
		}

		if info.Name() == ".git" {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if s.config.Skip != nil && s.config.Skip(relPath, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		mode := info.Mode()
		if mode&(os.ModeSocket|os.ModeNamedPipe|os.ModeDevice|os.ModeCharDevice) != 0 {
			return nil
		}

		entry := snapshotEntry{
			size:    info.Size(),
			modTime: info.ModTime(),
		}
		if mode&os.ModeSymlink != 0 {
			if tgt, err := os.Readlink(absPath); err == nil {
				entry.symlinkTgt = tgt
			}
		}

		snap[relPath] = entry
		return nil
	})

	return snap, errPaths
}

// reportScanErrors emits scan diagnostics through OnError, once per distinct
// set of failing paths. A clean scan resets the signature.
func (s *Scanner) reportScanErrors(errPaths map[string]bool) {
	if len(errPaths) == 0 {
		s.mu.Lock()
		s.lastErrorSignature = ""
		s.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(errPaths))
	for path := range errPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	signature := strings.Join(paths, "\x1f")

	s.mu.Lock()
	if signature == s.lastErrorSignature {
		s.mu.Unlock()
		return
	}
	s.lastErrorSignature = signature
	onError := s.config.OnError
	s.mu.Unlock()

	if onError == nil {
		return
	}

	const previewLimit = 5
	preview := paths
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	detail := strings.Join(preview, ", ")
	if len(paths) > previewLimit {
		detail = fmt.Sprintf("%s (+%d more)", detail, len(paths)-previewLimit)
	}

	onError(fmt.Errorf("project scan had errors on %d path(s): %s", len(paths), detail))
}

// isUnderErrPath reports whether path is, or is inside, a path that failed
// to scan.
func isUnderErrPath(path string, errPaths map[string]bool) bool {
	if len(errPaths) == 0 {
		return false
	}
	if errPaths[path] {
		return true
	}
	for ep := range errPaths {
		if ep == "." {
			return true
		}
		if strings.HasPrefix(path, ep+"/") {
			return true
		}
	}
	return false
}

type fileIdentity struct {
	size    int64
	modTime int64
}

// diffSnapshots computes the events between two snapshots. A delete and a
// create of a file with identical size and mtime in the same cycle are
// reported as one rename (same directory) or move (different directory).
// Output order: deleted, created, renamed/moved, content-changed, each
// sorted by path.
func diffSnapshots(root string, old, new map[string]snapshotEntry, errPaths map[string]bool) []Event {
	abs := func(rel string) string {
		return filepath.Join(root, filepath.FromSlash(rel))
	}

	var deleted, created []string
	for path := range old {
		if _, exists := new[path]; !exists && !isUnderErrPath(path, errPaths) {
			deleted = append(deleted, path)
		}
	}
	for path := range new {
		if _, exists := old[path]; !exists {
			created = append(created, path)
		}
	}
	sort.Strings(deleted)
	sort.Strings(created)

	// Pair unambiguous delete/create couples.
	byIdentity := make(map[fileIdentity][]string)
	for _, path := range deleted {
		e := old[path]
		id := fileIdentity{e.size, e.modTime.UnixNano()}
		byIdentity[id] = append(byIdentity[id], path)
	}
	createdCount := make(map[fileIdentity]int)
	for _, path := range created {
		e := new[path]
		createdCount[fileIdentity{e.size, e.modTime.UnixNano()}]++
	}

	var moves []Event
	paired := make(map[string]bool)
	for _, path := range created {
		e := new[path]
		id := fileIdentity{e.size, e.modTime.UnixNano()}
		if len(byIdentity[id]) != 1 || createdCount[id] != 1 {
			continue
		}
		from := byIdentity[id][0]
		kind := Moved
		if filepathDir(from) == filepathDir(path) {
			kind = Renamed
		}
		moves = append(moves, Event{Path: abs(path), OldPath: abs(from), Kind: kind})
		paired[from] = true
		paired[path] = true
	}

	var events []Event
	for _, path := range deleted {
		if !paired[path] {
			events = append(events, Event{Path: abs(path), Kind: Deleted})
		}
	}
	for _, path := range created {
		if !paired[path] {
			events = append(events, Event{Path: abs(path), Kind: Created})
		}
	}
	events = append(events, moves...)

	var modified []string
	for path, newEntry := range new {
		oldEntry, exists := old[path]
		if !exists {
			continue
		}
		if oldEntry.size != newEntry.size ||
			!oldEntry.modTime.Equal(newEntry.modTime) ||
			oldEntry.symlinkTgt != newEntry.symlinkTgt {
			modified = append(modified, path)
		}
	}
	sort.Strings(modified)
	for _, path := range modified {
		events = append(events, Event{Path: abs(path), Kind: ContentChanged})
	}

	return events
}

func filepathDir(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}
