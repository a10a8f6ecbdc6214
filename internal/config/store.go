package config

import "sync"

// Store holds the live configuration shared between the CLI and the
// services. Reads return copies; writers go through Update so discovered
// ports and reloaded files are visible to the next snapshot.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore creates a store seeded with cfg (defaults when nil).
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	return &Store{cfg: *cfg}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Snapshot normalizes the current configuration.
func (s *Store) Snapshot() (ServerConfig, error) {
	cfg := s.Get()
	return cfg.Snapshot()
}

// Update applies fn to the stored configuration under the write lock.
func (s *Store) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

// Replace swaps in a whole new configuration and returns the previous one.
func (s *Store) Replace(cfg Config) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	return old
}

// SetWebSocketPort records a port discovered by a free-port search.
func (s *Store) SetWebSocketPort(port int) {
	s.Update(func(c *Config) { c.WebSocketPort = port })
}

// SetHTTPPort records a port discovered by a free-port search.
func (s *Store) SetHTTPPort(port int) {
	s.Update(func(c *Config) { c.HTTPPort = port })
}
