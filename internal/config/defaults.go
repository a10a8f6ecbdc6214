package config

// DefaultDirName is the per-user state directory under $HOME.
const DefaultDirName = ".livereload"

const (
	DefaultHTTPPort             = 4080
	DefaultWebSocketPort        = 3000
	DefaultWatchedExtensions    = "html,css,js,less"
	DefaultExcludedFolders      = ".idea,.git,node_modules"
	DefaultBrowserRefreshDelay  = 100
	DefaultAutoStopDelaySeconds = 300
	DefaultThreadPoolSize       = 3
	DefaultReconnectAttempts    = 5
	DefaultIndicatorPosition    = "top_right"
	DefaultScanIntervalMs       = 250

	// MinBrowserRefreshDelay is the floor applied to the refresh delay.
	MinBrowserRefreshDelay = 50
)

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Enabled:               true,
		HTTPPort:              DefaultHTTPPort,
		WebSocketPort:         DefaultWebSocketPort,
		SearchFreePort:        true,
		WatchedExtensions:     DefaultWatchedExtensions,
		ExcludedFolders:       DefaultExcludedFolders,
		BrowserRefreshDelayMs: DefaultBrowserRefreshDelay,
		AutoStopDelaySeconds:  DefaultAutoStopDelaySeconds,
		ThreadPoolSize:        DefaultThreadPoolSize,
		ReconnectAttempts:     DefaultReconnectAttempts,
		IndicatorPosition:     DefaultIndicatorPosition,
		ShowIndicator:         true,
		ScanIntervalMs:        DefaultScanIntervalMs,
	}
}
