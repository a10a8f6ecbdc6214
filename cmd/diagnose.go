// This file implements the `livereload diagnose` command.
//
// It checks the local environment a server would run in (ports, project,
// settings), prints the effective settings and suggests fixes. Output is
// human-readable by default or JSON with --json.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/contentserver"
	"github.com/pseudocoder/livereload/internal/portprobe"
)

// DiagnoseResult is the JSON output of `livereload diagnose --json`.
type DiagnoseResult struct {
	// Version is the output schema version. Always "1".
	Version string `json:"version"`

	Checks   []DiagnoseCheck  `json:"checks"`
	Summary  DiagnoseSummary  `json:"summary"`
	Settings DiagnoseSettings `json:"settings"`
}

// DiagnoseCheck is one diagnostic check.
type DiagnoseCheck struct {
	// ID is a stable identifier such as "network.http_port".
	ID string `json:"id"`

	// Status is "pass", "warn" or "fail".
	Status string `json:"status"`

	Message    string `json:"message"`
	NextAction string `json:"next_action"`
}

// DiagnoseSummary holds pass/warn/fail counts.
type DiagnoseSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// DiagnoseSettings is the effective configuration, as the server would
// use it.
type DiagnoseSettings struct {
	Project             string `json:"project"`
	HTTPPort            int    `json:"http_port"`
	WebSocketPort       int    `json:"websocket_port"`
	SearchFreePort      bool   `json:"search_free_port"`
	Enabled             bool   `json:"enabled"`
	ShowIndicator       bool   `json:"show_indicator"`
	IndicatorPosition   string `json:"indicator_position"`
	ReconnectAttempts   int    `json:"reconnect_attempts"`
	BrowserRefreshDelay int    `json:"browser_refresh_delay_ms"`
	AutoStopEnabled     bool   `json:"auto_stop_enabled"`
	AutoStopDelay       int    `json:"auto_stop_delay_seconds"`
	WatchedExtensions   string `json:"watched_extensions"`
	ExcludedFolders     string `json:"excluded_folders"`
	WatchExternal       bool   `json:"watch_external_changes"`
	ExternalWatchPaths  string `json:"external_watch_paths"`
}

// Stable check IDs.
const (
	checkIDConfig     = "settings.config"
	checkIDService    = "service.status"
	checkIDHTTPPort   = "network.http_port"
	checkIDWSPort     = "network.websocket_port"
	checkIDProject    = "project.root"
	checkIDExtensions = "tracking.extensions"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Seams for tests.
var (
	diagnoseQueryStatus   = queryStatus
	diagnosePortAvailable = portprobe.IsAvailable
)

func runDiagnose(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.livereload/config.toml)")
	project := fs.String("project", "", "Project directory to check (default: config, then current directory)")
	jsonMode := fs.Bool("json", false, "Emit machine-readable JSON to stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: livereload diagnose [options]\n\nCheck ports and settings and print troubleshooting tips.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *project != "" {
		cfg.Project = *project
	}

	result := diagnose(cfg)

	if *jsonMode {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDiagnoseHuman(stdout, result)
	}

	if result.Summary.Fail > 0 {
		return 1
	}
	return 0
}

// diagnose evaluates every check against cfg in a fixed order.
func diagnose(cfg *config.Config) DiagnoseResult {
	var status *contentserver.Status
	if s, err := diagnoseQueryStatus(portprobe.BaseURL(cfg.HTTPPort)); err == nil {
		status = s
	}

	checks := []DiagnoseCheck{
		evalConfig(cfg),
		evalService(status),
		evalPort(checkIDHTTPPort, "HTTP", cfg.HTTPPort, cfg.SearchFreePort, status != nil && status.HTTPPort == cfg.HTTPPort),
		evalPort(checkIDWSPort, "WebSocket", cfg.WebSocketPort, cfg.SearchFreePort, status != nil && status.Running && status.WebSocketPort == cfg.WebSocketPort),
		evalProject(cfg.Project),
		evalExtensions(cfg.WatchedExtensions),
	}

	var summary DiagnoseSummary
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	return DiagnoseResult{
		Version:  "1",
		Checks:   checks,
		Summary:  summary,
		Settings: settingsOf(cfg),
	}
}

func settingsOf(cfg *config.Config) DiagnoseSettings {
	return DiagnoseSettings{
		Project:             cfg.Project,
		HTTPPort:            cfg.HTTPPort,
		WebSocketPort:       cfg.WebSocketPort,
		SearchFreePort:      cfg.SearchFreePort,
		Enabled:             cfg.Enabled,
		ShowIndicator:       cfg.ShowIndicator,
		IndicatorPosition:   config.ParseIndicatorPosition(cfg.IndicatorPosition).String(),
		ReconnectAttempts:   cfg.ReconnectAttempts,
		BrowserRefreshDelay: cfg.BrowserRefreshDelayMs,
		AutoStopEnabled:     cfg.AutoStopEnabled,
		AutoStopDelay:       cfg.AutoStopDelaySeconds,
		WatchedExtensions:   cfg.WatchedExtensions,
		ExcludedFolders:     cfg.ExcludedFolders,
		WatchExternal:       cfg.WatchExternalChanges,
		ExternalWatchPaths:  cfg.ExternalWatchPaths,
	}
}

func evalConfig(cfg *config.Config) DiagnoseCheck {
	check := DiagnoseCheck{ID: checkIDConfig}
	if _, err := cfg.Snapshot(); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Configuration is invalid: %v", err)
		check.NextAction = "Fix the value in ~/.livereload/config.toml or the file given with --config."
		return check
	}
	if !cfg.Enabled {
		check.Status = statusWarn
		check.Message = "Live reload is disabled (enabled = false); pages are served but never reloaded."
		check.NextAction = "Set enabled = true in the config file."
		return check
	}
	check.Status = statusPass
	check.Message = "Configuration is valid."
	check.NextAction = "No action required."
	return check
}

func evalService(status *contentserver.Status) DiagnoseCheck {
	check := DiagnoseCheck{ID: checkIDService}
	switch {
	case status == nil:
		check.Status = statusWarn
		check.Message = "No server is running on the configured HTTP port."
		check.NextAction = "Start one with 'livereload serve [dir]'."
	case !status.Running:
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Content server is up but the reload service is stopped (project %s).", status.ProjectRoot)
		check.NextAction = "Restart 'livereload serve'; the reload service may have auto-stopped."
	default:
		check.Status = statusPass
		check.Message = fmt.Sprintf("Serving %s with %d browser(s) connected, up %s.",
			status.ProjectRoot, status.Connections, formatUptime(status.UptimeSeconds))
		check.NextAction = "No action required."
	}
	return check
}

// evalPort checks that port can be bound. A port held by our own running
// server passes.
func evalPort(id, name string, port int, search, ours bool) DiagnoseCheck {
	check := DiagnoseCheck{ID: id}
	switch {
	case ours:
		check.Status = statusPass
		check.Message = fmt.Sprintf("%s port %d is in use by the running server.", name, port)
		check.NextAction = "No action required."
	case diagnosePortAvailable(port):
		check.Status = statusPass
		check.Message = fmt.Sprintf("%s port %d is free.", name, port)
		check.NextAction = "No action required."
	case search:
		check.Status = statusWarn
		check.Message = fmt.Sprintf("%s port %d is busy; the next free port will be used.", name, port)
		check.NextAction = "Pages must be opened through the URL printed by 'livereload serve'."
	default:
		check.Status = statusFail
		check.Message = fmt.Sprintf("%s port %d is busy and search_free_port is off.", name, port)
		check.NextAction = "Stop the process using the port, choose another port, or set search_free_port = true."
	}
	return check
}

func evalProject(project string) DiagnoseCheck {
	check := DiagnoseCheck{ID: checkIDProject}
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			check.Status = statusFail
			check.Message = fmt.Sprintf("Cannot determine the current directory: %v", err)
			check.NextAction = "Pass the project directory with --project."
			return check
		}
		project = wd
	}
	abs, err := filepath.Abs(project)
	if err == nil {
		project = abs
	}

	info, err := os.Stat(project)
	switch {
	case err != nil:
		check.Status = statusFail
		check.Message = fmt.Sprintf("Project directory %s is not accessible: %v", project, err)
		check.NextAction = "Check the path given with --project or the project key."
	case !info.IsDir():
		check.Status = statusFail
		check.Message = fmt.Sprintf("Project %s is not a directory.", project)
		check.NextAction = "Point --project at the directory containing your pages."
	default:
		check.Status = statusPass
		check.Message = fmt.Sprintf("Project directory %s exists.", project)
		check.NextAction = "No action required."
	}
	return check
}

func evalExtensions(csv string) DiagnoseCheck {
	check := DiagnoseCheck{ID: checkIDExtensions}
	exts := config.ParseExtensions(csv)
	if len(exts) == 0 {
		check.Status = statusFail
		check.Message = "No file extensions are being watched."
		check.NextAction = "Set watched_extensions, for example \"html,css,js\"."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Watching %s.", strings.Join(exts.Sorted(), ", "))
	check.NextAction = "No action required."
	return check
}

func renderDiagnoseHuman(w io.Writer, result DiagnoseResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Live Reload Diagnose")
	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	s := result.Settings
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Network")
	fmt.Fprintf(w, "  HTTP server:       http://localhost:%d\n", s.HTTPPort)
	fmt.Fprintf(w, "  WebSocket:         ws://localhost:%d\n", s.WebSocketPort)
	fmt.Fprintf(w, "  Search free port:  %s\n", yesNo(s.SearchFreePort))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "General")
	fmt.Fprintf(w, "  Enabled:           %s\n", yesNo(s.Enabled))
	fmt.Fprintf(w, "  Show indicator:    %s (%s)\n", yesNo(s.ShowIndicator), s.IndicatorPosition)
	fmt.Fprintf(w, "  Refresh delay:     %d ms\n", s.BrowserRefreshDelay)
	fmt.Fprintf(w, "  Reconnects:        %s\n", reconnects(s.ReconnectAttempts))
	if s.AutoStopEnabled {
		fmt.Fprintf(w, "  Auto-stop:         after %ds idle\n", s.AutoStopDelay)
	} else {
		fmt.Fprintf(w, "  Auto-stop:         off\n")
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "File tracking")
	fmt.Fprintf(w, "  Extensions:        %s\n", s.WatchedExtensions)
	fmt.Fprintf(w, "  Excluded folders:  %s\n", s.ExcludedFolders)
	if s.WatchExternal {
		fmt.Fprintf(w, "  External paths:    %s\n", s.ExternalWatchPaths)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "How to use")
	fmt.Fprintln(w, "  1. Run 'livereload serve' in the directory with your pages")
	fmt.Fprintln(w, "  2. Open the printed preview URL in a browser")
	fmt.Fprintln(w, "  3. Edit and save tracked files; CSS is swapped in place, other files reload the page")

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func reconnects(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d attempts", n)
}
