package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pseudocoder/livereload/internal/logging"
)

// ServeHTTP upgrades any request path to a reload session, so pages may
// connect to ws://localhost:<port> or any sub-path of it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		logging.Warnf("hub: handshake from %s rejected by rate limiter", r.RemoteAddr)
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		logging.Warnf("hub: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:          uuid.NewString(),
		remote:      r.RemoteAddr,
		connectedAt: time.Now(),
		conn:        conn,
		hub:         h,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
	}

	if !h.addClient(client) {
		conn.Close()
		return
	}
	logging.Infof("hub: session %s connected from %s (%d total)", client.id, client.remote, h.ConnectionCount())

	go client.writePump()
	go client.readPump()
}
