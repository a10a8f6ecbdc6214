package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pseudocoder/livereload/internal/contentserver"
)

// stubDiagnose replaces the seams with deterministic stubs for the test.
func stubDiagnose(t *testing.T, status *contentserver.Status, busy map[int]bool) {
	t.Helper()

	origQuery := diagnoseQueryStatus
	origAvailable := diagnosePortAvailable
	t.Cleanup(func() {
		diagnoseQueryStatus = origQuery
		diagnosePortAvailable = origAvailable
	})

	diagnoseQueryStatus = func(baseURL string) (*contentserver.Status, error) {
		if status == nil {
			return nil, errors.New("not running")
		}
		return status, nil
	}
	diagnosePortAvailable = func(port int) bool {
		return !busy[port]
	}
}

// writeDiagnoseConfig writes a config file for a fresh project directory.
func writeDiagnoseConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	project := filepath.Join(dir, "site")
	if err := os.MkdirAll(project, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf("project = %q\nhttp_port = 4080\nwebsocket_port = 3000\n%s", project, extra)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runDiagnoseJSON(t *testing.T, args ...string) (int, DiagnoseResult) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runDiagnose(append(args, "--json"), &stdout, &stderr)
	var result DiagnoseResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON %q (stderr %q): %v", stdout.String(), stderr.String(), err)
	}
	return code, result
}

func checkByID(t *testing.T, result DiagnoseResult, id string) DiagnoseCheck {
	t.Helper()
	for _, c := range result.Checks {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("check %s not found", id)
	return DiagnoseCheck{}
}

func TestDiagnoseIdleMachine(t *testing.T) {
	stubDiagnose(t, nil, nil)
	cfgPath := writeDiagnoseConfig(t, "")

	code, result := runDiagnoseJSON(t, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	wantOrder := []string{checkIDConfig, checkIDService, checkIDHTTPPort, checkIDWSPort, checkIDProject, checkIDExtensions}
	if len(result.Checks) != len(wantOrder) {
		t.Fatalf("expected %d checks, got %d", len(wantOrder), len(result.Checks))
	}
	for i, id := range wantOrder {
		if result.Checks[i].ID != id {
			t.Errorf("check %d = %s, want %s", i, result.Checks[i].ID, id)
		}
	}

	if c := checkByID(t, result, checkIDService); c.Status != statusWarn {
		t.Errorf("service check = %s, want warn", c.Status)
	}
	if result.Summary.Pass != 5 || result.Summary.Warn != 1 || result.Summary.Fail != 0 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if result.Settings.HTTPPort != 4080 || result.Settings.WebSocketPort != 3000 {
		t.Errorf("unexpected settings %+v", result.Settings)
	}
}

func TestDiagnoseRunningServerOwnsPorts(t *testing.T) {
	stubDiagnose(t, &contentserver.Status{
		Running:       true,
		HTTPPort:      4080,
		WebSocketPort: 3000,
		Connections:   1,
		ProjectRoot:   "/work/site",
	}, map[int]bool{4080: true, 3000: true})
	cfgPath := writeDiagnoseConfig(t, "")

	code, result := runDiagnoseJSON(t, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	for _, id := range []string{checkIDService, checkIDHTTPPort, checkIDWSPort} {
		if c := checkByID(t, result, id); c.Status != statusPass {
			t.Errorf("%s = %s (%s), want pass", id, c.Status, c.Message)
		}
	}
}

func TestDiagnoseBusyPortWithoutSearchFails(t *testing.T) {
	stubDiagnose(t, nil, map[int]bool{3000: true})
	cfgPath := writeDiagnoseConfig(t, "search_free_port = false\n")

	code, result := runDiagnoseJSON(t, "--config", cfgPath)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if c := checkByID(t, result, checkIDWSPort); c.Status != statusFail {
		t.Errorf("websocket port check = %s, want fail", c.Status)
	}
}

func TestDiagnoseBusyPortWithSearchWarns(t *testing.T) {
	stubDiagnose(t, nil, map[int]bool{4080: true})
	cfgPath := writeDiagnoseConfig(t, "")

	_, result := runDiagnoseJSON(t, "--config", cfgPath)
	if c := checkByID(t, result, checkIDHTTPPort); c.Status != statusWarn {
		t.Errorf("http port check = %s, want warn", c.Status)
	}
}

func TestDiagnoseNoExtensionsFails(t *testing.T) {
	stubDiagnose(t, nil, nil)
	cfgPath := writeDiagnoseConfig(t, "watched_extensions = \" , \"\n")

	code, result := runDiagnoseJSON(t, "--config", cfgPath)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if c := checkByID(t, result, checkIDExtensions); c.Status != statusFail {
		t.Errorf("extensions check = %s, want fail", c.Status)
	}
}

func TestDiagnoseMissingProjectFails(t *testing.T) {
	stubDiagnose(t, nil, nil)
	cfgPath := writeDiagnoseConfig(t, "")

	code, result := runDiagnoseJSON(t, "--config", cfgPath, "--project", filepath.Join(t.TempDir(), "gone"))
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if c := checkByID(t, result, checkIDProject); c.Status != statusFail {
		t.Errorf("project check = %s, want fail", c.Status)
	}
}

func TestDiagnoseDisabledWarns(t *testing.T) {
	stubDiagnose(t, nil, nil)
	cfgPath := writeDiagnoseConfig(t, "enabled = false\n")

	_, result := runDiagnoseJSON(t, "--config", cfgPath)
	if c := checkByID(t, result, checkIDConfig); c.Status != statusWarn {
		t.Errorf("config check = %s, want warn", c.Status)
	}
}

func TestDiagnoseHumanOutput(t *testing.T) {
	stubDiagnose(t, nil, nil)
	cfgPath := writeDiagnoseConfig(t, "")

	var stdout, stderr bytes.Buffer
	code := runDiagnose([]string{"--config", cfgPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	out := stdout.String()
	for _, want := range []string{
		"[WARN] service.status",
		"-> Start one with 'livereload serve [dir]'.",
		"HTTP server:       http://localhost:4080",
		"WebSocket:         ws://localhost:3000",
		"Extensions:        html,css,js,less",
		"Summary: 5 passed, 1 warnings, 0 failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
