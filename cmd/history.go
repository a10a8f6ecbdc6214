package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/storage"
)

// historyTimeFormat is used for run and broadcast timestamps.
const historyTimeFormat = "2006-01-02 15:04:05"

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.livereload/config.toml)")
	journalPath := fs.String("journal", "", "Journal database path (default: from config)")
	limit := fs.Int("limit", 20, "Maximum number of entries")
	runID := fs.String("run", "", "Show the broadcasts of this run instead of the run list")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: livereload history [options]\n\nList recent server runs and reload broadcasts.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *journalPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path = cfg.JournalPath
	}
	path, err := resolveJournalPath(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if path == "" {
		fmt.Fprintln(stderr, "Error: the journal is disabled (journal_path = \"off\")")
		return 1
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No runs recorded yet.")
		return 0
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if *runID != "" {
		broadcasts, err := store.ListBroadcasts(*runID, *limit)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if *jsonOutput {
			return writeJSON(stdout, stderr, broadcasts)
		}
		writeBroadcasts(stdout, broadcasts)
		return 0
	}

	runs, err := store.ListRuns(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOutput {
		return writeJSON(stdout, stderr, runs)
	}
	writeRuns(stdout, runs)
	return 0
}

func writeJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeRuns(w io.Writer, runs []*storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSTOP\tRELOADS\tPROJECT")
	for _, r := range runs {
		duration, reason := "-", "running"
		if !r.StoppedAt.IsZero() {
			duration = formatUptime(int64(r.StoppedAt.Sub(r.StartedAt) / time.Second))
			reason = r.StopReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(historyTimeFormat),
			duration,
			reason,
			r.Broadcasts,
			r.ProjectRoot,
		)
	}
	tw.Flush()
}

func writeBroadcasts(w io.Writer, broadcasts []*storage.Broadcast) {
	if len(broadcasts) == 0 {
		fmt.Fprintln(w, "No broadcasts recorded for this run.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tBROWSERS\tFILE")
	for _, b := range broadcasts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			b.At.Local().Format(historyTimeFormat),
			b.Kind,
			b.Recipients,
			b.File,
		)
	}
	tw.Flush()
}
