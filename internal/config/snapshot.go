package config

import (
	"sort"
	"strings"
	"time"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
)

// IndicatorPosition is the corner holding the in-page status indicator.
type IndicatorPosition int

const (
	TopRight IndicatorPosition = iota
	TopLeft
	BottomLeft
	BottomRight
)

// ParseIndicatorPosition maps a settings value to a position.
// Unknown values fall back to TopRight.
func ParseIndicatorPosition(s string) IndicatorPosition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "top_left":
		return TopLeft
	case "bottom_left":
		return BottomLeft
	case "bottom_right":
		return BottomRight
	default:
		return TopRight
	}
}

// String returns the settings value for p.
func (p IndicatorPosition) String() string {
	switch p {
	case TopLeft:
		return "top_left"
	case BottomLeft:
		return "bottom_left"
	case BottomRight:
		return "bottom_right"
	default:
		return "top_right"
	}
}

// CSS returns the inline style placing the indicator.
func (p IndicatorPosition) CSS() string {
	switch p {
	case TopLeft:
		return "top: 10px; left: 10px;"
	case BottomLeft:
		return "bottom: 10px; left: 10px;"
	case BottomRight:
		return "bottom: 10px; right: 10px;"
	default:
		return "top: 10px; right: 10px;"
	}
}

// StringSet is a normalized set of lowercase or slash-trimmed strings.
type StringSet map[string]struct{}

// Has reports whether s is in the set.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (s StringSet) Equal(o StringSet) bool {
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if !o.Has(v) {
			return false
		}
	}
	return true
}

// ParseExtensions splits a CSV of extensions into a lowercase trimmed set.
// A leading dot is dropped so ".css" and "css" are the same entry.
func ParseExtensions(csv string) StringSet {
	set := make(StringSet)
	for _, part := range strings.Split(csv, ",") {
		v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(part)), ".")
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// ParseFolders splits a CSV of project-relative folders into a lowercase set
// of forward-slash paths with no leading or trailing slash.
func ParseFolders(csv string) StringSet {
	set := make(StringSet)
	for v := range ParsePaths(csv) {
		v = strings.ToLower(strings.TrimLeft(v, "/"))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// ParsePaths splits a CSV of filesystem paths into a set of forward-slash
// paths without trailing slashes. Case and leading slashes are kept so
// absolute paths stay absolute.
func ParsePaths(csv string) StringSet {
	set := make(StringSet)
	for _, part := range strings.Split(csv, ",") {
		v := strings.ReplaceAll(strings.TrimSpace(part), "\\", "/")
		if len(v) > 1 {
			v = strings.TrimRight(v, "/")
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// ServerConfig is the immutable, normalized snapshot an orchestrator run uses.
// Build it with Config.Snapshot; never mutate the sets after construction.
type ServerConfig struct {
	HTTPPort             int
	WebSocketPort        int
	SearchFreePort       bool
	WatchedExtensions    StringSet
	ExcludedFolders      StringSet
	BrowserRefreshDelay  time.Duration
	AutoStopEnabled      bool
	AutoStopDelay        time.Duration
	ThreadPoolSize       int
	ReconnectAttempts    int
	IndicatorPosition    IndicatorPosition
	Enabled              bool
	ShowIndicator        bool
	WatchExternalChanges bool
	ExternalWatchPaths   StringSet
	ScanInterval         time.Duration
}

// Snapshot validates c and returns its normalized ServerConfig.
func (c *Config) Snapshot() (ServerConfig, error) {
	if err := validPort("http_port", c.HTTPPort); err != nil {
		return ServerConfig{}, err
	}
	if err := validPort("websocket_port", c.WebSocketPort); err != nil {
		return ServerConfig{}, err
	}
	if c.ThreadPoolSize < 1 {
		return ServerConfig{}, apperrors.ConfigInvalid("thread_pool_size", "must be at least 1")
	}
	if c.BrowserRefreshDelayMs < 0 {
		return ServerConfig{}, apperrors.ConfigInvalid("browser_refresh_delay_ms", "must not be negative")
	}
	if c.AutoStopDelaySeconds < 0 {
		return ServerConfig{}, apperrors.ConfigInvalid("auto_stop_delay_seconds", "must not be negative")
	}
	if c.ReconnectAttempts < 0 {
		return ServerConfig{}, apperrors.ConfigInvalid("reconnect_attempts", "must not be negative (0 = unlimited)")
	}

	scan := c.ScanIntervalMs
	if scan <= 0 {
		scan = DefaultScanIntervalMs
	}

	return ServerConfig{
		HTTPPort:             c.HTTPPort,
		WebSocketPort:        c.WebSocketPort,
		SearchFreePort:       c.SearchFreePort,
		WatchedExtensions:    ParseExtensions(c.WatchedExtensions),
		ExcludedFolders:      ParseFolders(c.ExcludedFolders),
		BrowserRefreshDelay:  time.Duration(c.BrowserRefreshDelayMs) * time.Millisecond,
		AutoStopEnabled:      c.AutoStopEnabled,
		AutoStopDelay:        time.Duration(c.AutoStopDelaySeconds) * time.Second,
		ThreadPoolSize:       c.ThreadPoolSize,
		ReconnectAttempts:    c.ReconnectAttempts,
		IndicatorPosition:    ParseIndicatorPosition(c.IndicatorPosition),
		Enabled:              c.Enabled,
		ShowIndicator:        c.ShowIndicator,
		WatchExternalChanges: c.WatchExternalChanges,
		ExternalWatchPaths:   ParsePaths(c.ExternalWatchPaths),
		ScanInterval:         time.Duration(scan) * time.Millisecond,
	}, nil
}

// EffectiveRefreshDelay is the refresh delay with the 50ms floor applied.
func (c ServerConfig) EffectiveRefreshDelay() time.Duration {
	floor := MinBrowserRefreshDelay * time.Millisecond
	if c.BrowserRefreshDelay < floor {
		return floor
	}
	return c.BrowserRefreshDelay
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return apperrors.ConfigInvalid(field, "must be between 1 and 65535")
	}
	return nil
}
