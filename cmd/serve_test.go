package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pseudocoder/livereload/internal/config"
)

func TestParseServeFlagsPositionalProject(t *testing.T) {
	f, _, err := parseServeFlags([]string{"--http-port", "5000", "site"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseServeFlags: %v", err)
	}
	if f.Project != "site" {
		t.Errorf("Project = %q, want site", f.Project)
	}
	if f.HTTPPort != 5000 {
		t.Errorf("HTTPPort = %d, want 5000", f.HTTPPort)
	}
}

func TestParseServeFlagsRejectsTwoProjects(t *testing.T) {
	if _, _, err := parseServeFlags([]string{"--project", "a", "b"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for --project plus an argument")
	}
	if _, _, err := parseServeFlags([]string{"a", "b"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for two arguments")
	}
}

func TestMergeServeConfigFlagsWin(t *testing.T) {
	fileCfg := config.Default()
	fileCfg.Project = "/from/file"
	fileCfg.HTTPPort = 8000
	fileCfg.WebSocketPort = 9000
	fileCfg.AutoStopEnabled = true
	fileCfg.MdnsEnabled = true

	f, explicit, err := parseServeFlags([]string{
		"--ws-port", "9100",
		"--auto-stop=false",
		"--exclude", "dist",
		"/from/flag",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseServeFlags: %v", err)
	}

	cfg := mergeServeConfig(f, explicit, fileCfg)

	if cfg.Project != "/from/flag" {
		t.Errorf("Project = %q, want /from/flag", cfg.Project)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("HTTPPort = %d, want file value 8000", cfg.HTTPPort)
	}
	if cfg.WebSocketPort != 9100 {
		t.Errorf("WebSocketPort = %d, want 9100", cfg.WebSocketPort)
	}
	if cfg.AutoStopEnabled {
		t.Error("explicit --auto-stop=false should override the file")
	}
	if !cfg.MdnsEnabled {
		t.Error("mdns not given on the command line should keep the file value")
	}
	if cfg.ExcludedFolders != "dist" {
		t.Errorf("ExcludedFolders = %q, want dist", cfg.ExcludedFolders)
	}
	if fileCfg.WebSocketPort != 9000 {
		t.Error("merge must not modify the file config")
	}
}

func TestResolveJournalPath(t *testing.T) {
	got, err := resolveJournalPath("OFF")
	if err != nil || got != "" {
		t.Fatalf("resolveJournalPath(OFF) = %q, %v; want disabled", got, err)
	}

	got, err = resolveJournalPath("/tmp/j.db")
	if err != nil || got != "/tmp/j.db" {
		t.Fatalf("resolveJournalPath = %q, %v", got, err)
	}
}

func TestOpenJournalOffReturnsNil(t *testing.T) {
	var stderr bytes.Buffer
	if j := openJournal(journalOff, &stderr); j != nil {
		j.Close()
		t.Fatal("expected no journal when disabled")
	}
	if stderr.Len() != 0 {
		t.Fatalf("unexpected warning: %q", stderr.String())
	}
}

func TestOpenJournalCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j := openJournal(path, &bytes.Buffer{})
	if j == nil {
		t.Fatal("expected a journal")
	}
	defer j.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("journal file not created: %v", err)
	}
}

func TestSetupLoggingRejectsUnknownLevel(t *testing.T) {
	if _, err := setupLogging("loud", ""); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestSetupLoggingToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "livereload.log")
	closeLog, err := setupLogging("info", path)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	closeLog()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte("thread_pool_size = 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := runServe([]string{"--config", cfgPath, "--journal", "off", t.TempDir()}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "thread_pool_size") {
		t.Fatalf("expected the invalid field in the error, got %q", stderr.String())
	}
}

func TestServeMissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runServe([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "config file not found") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}
