package config

// Change describes what differs between two snapshots and how a running
// service has to react.
type Change struct {
	// RestartRequired is set when a listener port, the pool size or the
	// free-port search flag changed. These cannot be applied in place.
	RestartRequired bool

	// Fields names every field that differs, in declaration order.
	Fields []string

	ExtensionsChanged bool
	ExcludedChanged   bool
	DelayChanged      bool
	AutoStopChanged   bool
	WatcherChanged    bool
	ClientChanged     bool
}

// Empty reports whether the snapshots are equivalent.
func (c Change) Empty() bool {
	return len(c.Fields) == 0
}

// Diff compares two snapshots field by field.
func Diff(old, new ServerConfig) Change {
	var c Change
	mark := func(field string, changed bool) bool {
		if changed {
			c.Fields = append(c.Fields, field)
		}
		return changed
	}

	restart := false
	restart = mark("http_port", old.HTTPPort != new.HTTPPort) || restart
	restart = mark("websocket_port", old.WebSocketPort != new.WebSocketPort) || restart
	restart = mark("search_free_port", old.SearchFreePort != new.SearchFreePort) || restart
	restart = mark("thread_pool_size", old.ThreadPoolSize != new.ThreadPoolSize) || restart
	c.RestartRequired = restart

	c.ExtensionsChanged = mark("watched_extensions", !old.WatchedExtensions.Equal(new.WatchedExtensions))
	c.ExcludedChanged = mark("excluded_folders", !old.ExcludedFolders.Equal(new.ExcludedFolders))
	c.DelayChanged = mark("browser_refresh_delay_ms", old.BrowserRefreshDelay != new.BrowserRefreshDelay)

	autoEnabled := mark("auto_stop_enabled", old.AutoStopEnabled != new.AutoStopEnabled)
	autoDelay := mark("auto_stop_delay_seconds", old.AutoStopDelay != new.AutoStopDelay)
	c.AutoStopChanged = autoEnabled || autoDelay

	watchFlag := mark("watch_external_changes", old.WatchExternalChanges != new.WatchExternalChanges)
	watchPaths := mark("external_watch_paths", !old.ExternalWatchPaths.Equal(new.ExternalWatchPaths))
	c.WatcherChanged = watchFlag || watchPaths

	attempts := mark("reconnect_attempts", old.ReconnectAttempts != new.ReconnectAttempts)
	position := mark("indicator_position", old.IndicatorPosition != new.IndicatorPosition)
	indicator := mark("show_indicator", old.ShowIndicator != new.ShowIndicator)
	c.ClientChanged = attempts || position || indicator

	mark("enabled", old.Enabled != new.Enabled)
	mark("scan_interval_ms", old.ScanInterval != new.ScanInterval)

	return c
}
