// Package mdns advertises a running preview server on the local network
// with DNS-SD, so phones and other machines can find the page under test.
// It is opt-in (mdns_enabled).
package mdns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type of the preview server.
const ServiceType = "_livereload._tcp"

// ProtocolVersion identifies the advertised TXT layout.
const ProtocolVersion = "1"

// Config holds what is advertised.
type Config struct {
	// Port is the content server port.
	Port int

	// WebSocketPort is the reload hub port.
	WebSocketPort int

	// Project is a display name for the served project.
	Project string

	// Name is the instance name. Defaults to the hostname.
	Name string
}

// Advertiser manages one DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser (not started).
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Calling Start while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := instanceName(a.config.Name)
	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords(name, a.config),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Config returns what the advertiser was created with.
func (a *Advertiser) Config() Config {
	return a.config
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "livereload"
}

// txtRecords builds the TXT strings. DNS limits each to 255 bytes, so
// long project names are truncated.
func txtRecords(name string, cfg Config) []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
	}
	if cfg.WebSocketPort > 0 {
		records = append(records, "ws="+strconv.Itoa(cfg.WebSocketPort))
	}
	if cfg.Project != "" {
		project := "project=" + cfg.Project
		if len(project) > 255 {
			project = project[:255]
		}
		records = append(records, project)
	}
	return records
}

// DiscoveredServer is a preview server found on the network.
type DiscoveredServer struct {
	Name          string
	Host          string
	Port          int
	WebSocketPort int
	Project       string
	Version       string
}

// URL returns the base URL of the server.
func (d DiscoveredServer) URL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

func parseTXT(d *DiscoveredServer, records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			d.Version = value
		case "name":
			d.Name = value
		case "ws":
			d.WebSocketPort, _ = strconv.Atoi(value)
		case "project":
			d.Project = value
		}
	}
}

// Discover browses for preview servers until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredServer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		servers []DiscoveredServer
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			s := DiscoveredServer{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				s.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				s.Host = entry.AddrIPv6[0].String()
			}
			parseTXT(&s, entry.Text)

			mu.Lock()
			servers = append(servers, s)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return servers, nil
}
