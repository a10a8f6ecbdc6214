// Package config provides TOML configuration file loading and parsing for the
// live-reload host. The configuration file lives at ~/.livereload/config.toml by
// default, but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags. List-valued settings are comma separated strings, as they
// are typed into a settings form.
type Config struct {
	// Project is the directory served and watched.
	// If empty, defaults to the current working directory.
	Project string `toml:"project"`

	// Enabled is the master switch. When false, file events are ignored
	// even while the service runs.
	// Default: true
	Enabled bool `toml:"enabled"`

	// HTTPPort is the port of the static content server.
	// Default: 4080
	HTTPPort int `toml:"http_port"`

	// WebSocketPort is the port browsers connect to for reload messages.
	// Default: 3000
	WebSocketPort int `toml:"websocket_port"`

	// SearchFreePort scans upward from a busy port for a free one.
	// Default: true
	SearchFreePort bool `toml:"search_free_port"`

	// WatchedExtensions lists file extensions that trigger a reload.
	// Default: "html,css,js,less"
	WatchedExtensions string `toml:"watched_extensions"`

	// ExcludedFolders lists project-relative folders whose changes are ignored.
	// Default: ".idea,.git,node_modules"
	ExcludedFolders string `toml:"excluded_folders"`

	// BrowserRefreshDelayMs delays the reload notification after a change.
	// Values under 50 are raised to 50.
	// Default: 100
	BrowserRefreshDelayMs int `toml:"browser_refresh_delay_ms"`

	// AutoStopEnabled stops the service after it has had no browser
	// connections for AutoStopDelaySeconds.
	// Default: false
	AutoStopEnabled bool `toml:"auto_stop_enabled"`

	// AutoStopDelaySeconds is the idle period before an auto-stop.
	// Default: 300
	AutoStopDelaySeconds int `toml:"auto_stop_delay_seconds"`

	// ThreadPoolSize is the number of workers running delayed tasks.
	// Default: 3
	ThreadPoolSize int `toml:"thread_pool_size"`

	// ReconnectAttempts limits browser reconnects; 0 means unlimited.
	// Default: 5
	ReconnectAttempts int `toml:"reconnect_attempts"`

	// IndicatorPosition places the in-page status dot:
	// top_left, top_right, bottom_left, bottom_right.
	// Default: top_right
	IndicatorPosition string `toml:"indicator_position"`

	// ShowIndicator toggles the in-page status dot.
	// Default: true
	ShowIndicator bool `toml:"show_indicator"`

	// WatchExternalChanges starts an OS-level watcher for paths the project
	// scanner does not cover (e.g. build output).
	// Default: false
	WatchExternalChanges bool `toml:"watch_external_changes"`

	// ExternalWatchPaths lists project-relative directories for the OS watcher.
	ExternalWatchPaths string `toml:"external_watch_paths"`

	// ScanIntervalMs is the project scanner poll interval.
	// Default: 250
	ScanIntervalMs int `toml:"scan_interval_ms"`

	// JournalPath is the SQLite database recording runs and broadcasts.
	// Default: ~/.livereload/journal.db; "off" disables the journal.
	JournalPath string `toml:"journal_path"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFile redirects log output to a file.
	LogFile string `toml:"log_file"`

	// MdnsEnabled advertises the preview server on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`
}

// DefaultConfigPath returns the default config file location: ~/.livereload/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, "config.toml"), nil
}

// DefaultJournalPath returns ~/.livereload/journal.db.
func DefaultJournalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, "journal.db"), nil
}

// WriteDefault creates a config file with the default settings at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# Live reload configuration")
	fmt.Fprintln(f, "")
	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}
	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
// Keys missing from the file keep their default values.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.livereload/config.toml).
//     Returns the defaults without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
