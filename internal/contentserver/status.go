package contentserver

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/pseudocoder/livereload/internal/logging"
)

// Status is the payload of the status endpoint and the CLI status command.
type Status struct {
	Running          bool   `json:"running"`
	HTTPPort         int    `json:"http_port"`
	WebSocketPort    int    `json:"websocket_port"`
	Connections      int    `json:"connections"`
	LastDisconnectMs int64  `json:"last_disconnect_ms"`
	ProjectRoot      string `json:"project_root"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

// StatusProvider reports the live state of the reload service.
type StatusProvider interface {
	Status() Status
}

// handleStatus answers GET /__livereload/status for local callers only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}

	s.mu.RLock()
	provider := s.status
	resp := Status{Running: s.httpServer != nil, ProjectRoot: s.root}
	s.mu.RUnlock()

	if provider != nil {
		resp = provider.Status()
	}
	if resp.HTTPPort == 0 {
		resp.HTTPPort = s.Port()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Debugf("contentserver: encode status: %v", err)
	}
}

// isLoopbackRequest reports whether the request came from this machine.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		logging.Warnf("contentserver: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
