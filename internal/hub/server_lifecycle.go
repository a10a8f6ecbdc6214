package hub

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/portprobe"
)

// Start binds localhost:port and begins accepting sessions. The listener is
// created before Start returns, so a busy port is reported immediately.
// Port 0 binds an ephemeral port; see Port.
func (h *Hub) Start(port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return apperrors.ServiceAlreadyRunning()
	}

	ln, err := net.Listen("tcp", portprobe.Addr(port))
	if err != nil {
		return apperrors.PortUnavailable(port, err)
	}

	h.listener = ln
	h.httpServer = &http.Server{Handler: h}
	h.started = true

	srv := h.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("hub: websocket server error: %v", err)
		}
	}()

	logging.Infof("hub: websocket server listening on %s", ln.Addr())
	return nil
}

// Stop closes every session with a going-away frame and releases the
// listener. Removals during Stop are not reported to the change handler.
// Safe to call more than once.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true

	clients := h.clients
	h.clients = make(map[*Client]bool)
	srv, ln := h.httpServer, h.listener
	h.mu.Unlock()

	for c := range clients {
		c.closeSend()
	}

	if srv == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close websocket listener: %w", err)
	}
	if err := srv.Close(); err != nil {
		return fmt.Errorf("close websocket server: %w", err)
	}
	logging.Infof("hub: websocket server stopped (%d session(s) closed)", len(clients))
	return nil
}
