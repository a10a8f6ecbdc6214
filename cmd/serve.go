package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pseudocoder/livereload/internal/app"
	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/orchestrator"
	"github.com/pseudocoder/livereload/internal/storage"
)

// journalOff disables the journal when given as journal_path or --journal.
const journalOff = "off"

// ServeFlags holds the command line of the serve command. Zero values and
// booleans not given explicitly defer to the config file.
type ServeFlags struct {
	Config         string
	Project        string
	File           string
	HTTPPort       int
	WebSocketPort  int
	SearchFreePort bool
	AutoStop       bool
	AutoStopDelay  int
	RefreshDelayMs int
	Extensions     string
	Excluded       string
	WatchExternal  bool
	Journal        string
	LogLevel       string
	LogFile        string
	Mdns           bool
	QR             bool
}

// parseServeFlags parses args and reports which flags were set explicitly.
func parseServeFlags(args []string, stderr io.Writer) (*ServeFlags, map[string]bool, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &ServeFlags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file (default: ~/.livereload/config.toml)")
	fs.StringVar(&f.Project, "project", "", "Directory to serve (default: argument, config, then current directory)")
	fs.StringVar(&f.File, "file", "", "File whose URL is printed (default: project root)")
	fs.IntVar(&f.HTTPPort, "http-port", 0, "Content server port (default: 4080)")
	fs.IntVar(&f.WebSocketPort, "ws-port", 0, "Reload WebSocket port (default: 3000)")
	fs.BoolVar(&f.SearchFreePort, "search-free-port", false, "Use the next free port when a port is busy (default: true)")
	fs.BoolVar(&f.AutoStop, "auto-stop", false, "Stop after a period without browser connections")
	fs.IntVar(&f.AutoStopDelay, "auto-stop-delay", 0, "Idle seconds before an auto-stop (default: 300)")
	fs.IntVar(&f.RefreshDelayMs, "refresh-delay", 0, "Delay in ms between a change and the reload (default: 100)")
	fs.StringVar(&f.Extensions, "extensions", "", "Comma-separated watched extensions (default: html,css,js,less)")
	fs.StringVar(&f.Excluded, "exclude", "", "Comma-separated excluded folders (default: .idea,.git,node_modules)")
	fs.BoolVar(&f.WatchExternal, "watch-external", false, "Also watch external_watch_paths with OS notifications")
	fs.StringVar(&f.Journal, "journal", "", "Journal database path, or \"off\" (default: ~/.livereload/journal.db)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	fs.StringVar(&f.LogFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.BoolVar(&f.Mdns, "mdns", false, "Advertise the preview server on the local network")
	fs.BoolVar(&f.QR, "qr", false, "Print the preview URL as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: livereload serve [options] [dir]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		if len(rest) > 1 {
			return nil, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest[1:], " "))
		}
		if f.Project != "" {
			return nil, nil, errors.New("project given both as --project and as an argument")
		}
		f.Project = rest[0]
	}

	explicit := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = true
	})
	return f, explicit, nil
}

// mergeServeConfig applies the command line on top of the file config.
func mergeServeConfig(f *ServeFlags, explicit map[string]bool, fileCfg *config.Config) *config.Config {
	cfg := *fileCfg

	if f.Project != "" {
		cfg.Project = f.Project
	}
	if f.HTTPPort != 0 {
		cfg.HTTPPort = f.HTTPPort
	}
	if f.WebSocketPort != 0 {
		cfg.WebSocketPort = f.WebSocketPort
	}
	if f.AutoStopDelay != 0 {
		cfg.AutoStopDelaySeconds = f.AutoStopDelay
	}
	if f.RefreshDelayMs != 0 {
		cfg.BrowserRefreshDelayMs = f.RefreshDelayMs
	}
	if f.Extensions != "" {
		cfg.WatchedExtensions = f.Extensions
	}
	if f.Excluded != "" {
		cfg.ExcludedFolders = f.Excluded
	}
	if f.Journal != "" {
		cfg.JournalPath = f.Journal
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.LogFile = f.LogFile
	}
	// Booleans only override the file when given, so --flag=false works.
	if explicit["search-free-port"] {
		cfg.SearchFreePort = f.SearchFreePort
	}
	if explicit["auto-stop"] {
		cfg.AutoStopEnabled = f.AutoStop
	}
	if explicit["watch-external"] {
		cfg.WatchExternalChanges = f.WatchExternal
	}
	if explicit["mdns"] {
		cfg.MdnsEnabled = f.Mdns
	}
	return &cfg
}

func runServe(args []string, stdout, stderr io.Writer) int {
	flags, explicit, err := parseServeFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fileCfg, err := config.Load(flags.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := mergeServeConfig(flags, explicit, fileCfg)
	if _, err := cfg.Snapshot(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	closeLog, err := setupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	journal := openJournal(cfg.JournalPath, stderr)
	if journal != nil {
		defer journal.Close()
	}

	opts := app.Options{Notifier: &stdoutNotifier{w: stdout}}
	if journal != nil {
		opts.Journal = journal
	}
	application := app.New(config.NewStore(cfg), opts)

	fileURL, err := application.Open(cfg.Project, flags.File)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer application.Close()

	st := application.Status()
	fmt.Fprintf(stdout, "Serving %s\n", st.ProjectRoot)
	fmt.Fprintf(stdout, "  Preview:   %s\n", fileURL)
	fmt.Fprintf(stdout, "  Reload:    ws://localhost:%d\n", st.WebSocketPort)
	if cfg.AutoStopEnabled {
		fmt.Fprintf(stdout, "  Auto-stop: after %ds without browsers\n", cfg.AutoStopDelaySeconds)
	}
	if flags.QR {
		DisplayQRCode(stdout, fileURL)
	}
	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-application.Done():
			fmt.Fprintln(stdout, "\nNo browser connections, server stopped.")
			return 0
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadConfig(application, flags, explicit, stderr)
				continue
			}
			fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
			return 0
		}
	}
}

// reloadConfig re-reads the config file and applies it with the command
// line still on top.
func reloadConfig(application *app.App, flags *ServeFlags, explicit map[string]bool, stderr io.Writer) {
	fileCfg, err := config.Load(flags.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: config reload failed: %v\n", err)
		return
	}
	cfg := mergeServeConfig(flags, explicit, fileCfg)
	if level, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(level)
	}
	if err := application.Reload(*cfg); err != nil {
		fmt.Fprintf(stderr, "Warning: config reload failed: %v\n", err)
		return
	}
	logging.Infof("cmd: configuration reloaded")
}

// setupLogging applies the log level and, when path is set, redirects logs
// to that file. The returned func closes the file.
func setupLogging(level, path string) (func(), error) {
	l, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(l)

	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.SetOutput(f)
	return func() {
		logging.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// resolveJournalPath returns the journal location, "" when disabled.
func resolveJournalPath(path string) (string, error) {
	if strings.EqualFold(path, journalOff) {
		return "", nil
	}
	if path != "" {
		return path, nil
	}
	return config.DefaultJournalPath()
}

// openJournal opens the run journal. A journal that cannot be opened is
// reported and the server runs without one.
func openJournal(path string, stderr io.Writer) *storage.SQLiteStore {
	path, err := resolveJournalPath(path)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: journal disabled: %v\n", err)
		return nil
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(stderr, "Warning: journal disabled: %v\n", err)
		return nil
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: journal disabled: %v\n", err)
		return nil
	}
	return store
}

// stdoutNotifier prints service notices for the user running the server.
type stdoutNotifier struct {
	w io.Writer
}

var _ orchestrator.Notifier = (*stdoutNotifier)(nil)

func (n *stdoutNotifier) Notify(title, message string) {
	fmt.Fprintf(n.w, "\n%s: %s\n", title, message)
}
