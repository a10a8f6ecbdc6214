package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pseudocoder/livereload/internal/config"
	"github.com/pseudocoder/livereload/internal/contentserver"
	"github.com/pseudocoder/livereload/internal/mdns"
	"github.com/pseudocoder/livereload/internal/portprobe"
)

// lanBrowseTimeout bounds how long status --lan listens for advertisements.
const lanBrowseTimeout = 2 * time.Second

var statusDiscover = mdns.Discover

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.livereload/config.toml)")
	port := fs.Int("http-port", 0, "Content server port to query (default: from config)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	lan := fs.Bool("lan", false, "List preview servers advertised on the local network")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: livereload status [options]\n\nShow the status of a running server.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *lan {
		return runStatusLAN(stdout, stderr, *jsonOutput)
	}

	target := *port
	if target == 0 {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		target = cfg.HTTPPort
	}

	status, err := queryStatus(portprobe.BaseURL(target))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return 0
	}
	writeStatusOutput(stdout, status)
	return 0
}

func runStatusLAN(stdout, stderr io.Writer, jsonOutput bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), lanBrowseTimeout)
	defer cancel()

	servers, err := statusDiscover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		if servers == nil {
			servers = []mdns.DiscoveredServer{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(servers)
		return 0
	}

	if len(servers) == 0 {
		fmt.Fprintln(stdout, "No preview servers found on the local network.")
		return 0
	}
	fmt.Fprintf(stdout, "Preview servers on the local network:\n")
	for _, s := range servers {
		fmt.Fprintf(stdout, "  %-24s %s", s.Name, s.URL())
		if s.Project != "" {
			fmt.Fprintf(stdout, "  (%s)", s.Project)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// writeStatusOutput renders human-readable server status.
func writeStatusOutput(stdout io.Writer, status *contentserver.Status) {
	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Fprintf(stdout, "Live Reload Status\n")
	fmt.Fprintf(stdout, "==================\n")
	fmt.Fprintf(stdout, "Service:      %s\n", state)
	fmt.Fprintf(stdout, "Project:      %s\n", status.ProjectRoot)
	fmt.Fprintf(stdout, "Preview:      %s\n", portprobe.BaseURL(status.HTTPPort))
	if status.Running {
		fmt.Fprintf(stdout, "Reload:       ws://localhost:%d\n", status.WebSocketPort)
		fmt.Fprintf(stdout, "Browsers:     %d connected\n", status.Connections)
		fmt.Fprintf(stdout, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))
	}
	if status.LastDisconnectMs > 0 && status.Connections == 0 {
		idle := time.Since(time.UnixMilli(status.LastDisconnectMs))
		fmt.Fprintf(stdout, "Idle:         %s\n", formatUptime(int64(idle/time.Second)))
	}
}

// queryStatus fetches the status endpoint of the server at baseURL.
func queryStatus(baseURL string) (*contentserver.Status, error) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + contentserver.StatusPath)
	if err != nil {
		return nil, fmt.Errorf("server is not running at %s (or not reachable)", baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status contentserver.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

// formatUptime formats a duration in seconds as a human-readable string.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
