package mdns

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 4080})

	// Stop before start and repeated stops are no-ops.
	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestTXTRecords(t *testing.T) {
	got := txtRecords("dev-box", Config{Port: 4080, WebSocketPort: 3001, Project: "site"})
	want := []string{"version=1", "name=dev-box", "ws=3001", "project=site"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("txtRecords = %v, want %v", got, want)
	}

	got = txtRecords("dev-box", Config{Port: 4080, Project: strings.Repeat("x", 400)})
	for _, r := range got {
		if len(r) > 255 {
			t.Errorf("TXT record longer than 255 bytes: %d", len(r))
		}
	}
	for _, r := range got {
		if strings.HasPrefix(r, "ws=") {
			t.Error("ws record should be omitted without a websocket port")
		}
	}
}

func TestParseTXT(t *testing.T) {
	var d DiscoveredServer
	parseTXT(&d, []string{"version=1", "name=dev-box", "ws=3001", "project=a=b", "junk"})

	if d.Version != "1" || d.Name != "dev-box" || d.WebSocketPort != 3001 || d.Project != "a=b" {
		t.Errorf("parseTXT = %+v", d)
	}

	d.Host, d.Port = "192.168.1.5", 4080
	if d.URL() != "http://192.168.1.5:4080" {
		t.Errorf("URL = %q", d.URL())
	}
}

func TestInstanceNameDefaultsToHostname(t *testing.T) {
	if instanceName("custom") != "custom" {
		t.Error("explicit name should be kept")
	}
	if instanceName("") == "" {
		t.Error("empty name should fall back to hostname")
	}
}

// TestAdvertiserStartStop needs multicast networking.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 4080, WebSocketPort: 3000, Name: "test-livereload"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	if !advertiser.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}
	if err := advertiser.Start(); err != nil {
		t.Fatalf("second Start() should be no-op, got error: %v", err)
	}

	advertiser.Stop()
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestDiscoverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 4081, WebSocketPort: 3001, Project: "demo", Name: "discover-livereload"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	defer advertiser.Stop()

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	servers, err := Discover(ctx)
	if err != nil {
		t.Skipf("mDNS browse unavailable: %v", err)
	}

	for _, s := range servers {
		if s.Name == "discover-livereload" {
			if s.Port != 4081 || s.WebSocketPort != 3001 || s.Project != "demo" {
				t.Errorf("discovered %+v", s)
			}
			return
		}
	}
	// Multicast is often filtered in CI.
	t.Log("test server not discovered")
}
