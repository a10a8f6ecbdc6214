// Package hub provides the WebSocket server that browser tabs connect to for
// reload notifications.
//
// The hub tracks live sessions, fans out reload messages and reports every
// change in the number of sessions to a registered handler. Each session
// has a buffered outgoing queue drained by its own write goroutine, so a slow
// browser never blocks a broadcast: a session whose queue is full is dropped.
package hub

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// sendBufferSize is the per-session queue of pending frames.
	sendBufferSize = 16

	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096

	// Handshakes are rate limited so a page stuck in a reconnect loop
	// across many tabs cannot monopolize the listener.
	defaultHandshakeRate  = 50
	defaultHandshakeBurst = 100
)

// Hub is the reload WebSocket server. Create one per service run with New.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	onChange func(count int)
	started  bool
	stopped  bool

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	limiter    *rate.Limiter
}

// Option configures a Hub.
type Option func(*Hub)

// WithHandshakeLimit overrides the handshake rate limit.
func WithHandshakeLimit(limit rate.Limit, burst int) Option {
	return func(h *Hub) { h.limiter = rate.NewLimiter(limit, burst) }
}

// New creates a hub. Call Start to bind the listener.
func New(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			// Pages are served from a different port than the hub.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultHandshakeRate), defaultHandshakeBurst),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetConnectionsChangedHandler registers fn to be called with the new
// session count after every add or remove. It is invoked synchronously on
// the goroutine that caused the change and must not block.
func (h *Hub) SetConnectionsChangedHandler(fn func(count int)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// ConnectionCount returns the number of open sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Addr returns the bound listener address, or "" before Start.
func (h *Hub) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (h *Hub) Port() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return 0
	}
	if tcp, ok := h.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// addClient registers c and reports the new count. It returns false if the
// hub has been stopped.
func (h *Hub) addClient(c *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = true
	n := len(h.clients)
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return true
}

// removeClient unregisters c, signals its write goroutine to exit and
// reports the new count. Only the first removal of a session reports.
func (h *Hub) removeClient(c *Client) bool {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	n := len(h.clients)
	fn := h.onChange
	h.mu.Unlock()

	c.closeSend()
	if fn != nil {
		fn(n)
	}
	return true
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
