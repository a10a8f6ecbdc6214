// Package contentserver serves a project directory over HTTP and injects the
// live-reload client script into every HTML page it returns.
//
// Paths are resolved strictly inside the project root. Responses are never
// cached by the browser, bodies are written in small flushed chunks, and a
// browser that disconnects mid-response is logged at debug level and
// otherwise ignored.
package contentserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
	"github.com/pseudocoder/livereload/internal/portprobe"
)

// DefaultWorkers bounds concurrently served requests.
const DefaultWorkers = 8

// StatusPath is the local-only JSON status endpoint.
const StatusPath = "/__livereload/status"

// Server is the static content server. The zero value is not usable; call New.
type Server struct {
	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	port       int
	wsPort     int
	root       string
	baseURL    string
	script     ScriptOptions
	status     StatusProvider

	sem    chan struct{}
	router http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithWorkers sets the number of requests served concurrently.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithStatusProvider sets the source of the status endpoint's payload.
func WithStatusProvider(p StatusProvider) Option {
	return func(s *Server) { s.status = p }
}

// New creates a stopped server.
func New(opts ...Option) *Server {
	s := &Server{
		script: DefaultScriptOptions(),
		sem:    make(chan struct{}, DefaultWorkers),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limitWorkers)
	r.Get(StatusPath, s.handleStatus)
	r.HandleFunc("/*", s.handleFile)
	// Registered after the catch-all so it replaces the OPTIONS endpoint.
	r.Options("/*", s.handlePreflight)
	return r
}

// Handler returns the request router, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetScriptOptions changes the client script injected from now on.
func (s *Server) SetScriptOptions(opts ScriptOptions) {
	s.mu.Lock()
	s.script = opts
	s.mu.Unlock()
}

// SetStatusProvider replaces the status endpoint's source.
func (s *Server) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	s.status = p
	s.mu.Unlock()
}

// Start serves root on localhost:port and returns the base URL. Calling it
// again with the same port, root and wsPort is a no-op that returns the
// current base URL; with any other arguments the running instance is
// stopped first.
func (s *Server) Start(port int, root string, wsPort int) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("project root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return "", apperrors.ConfigInvalid("project", absRoot+" is not a directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil && s.port == port && s.root == absRoot && s.wsPort == wsPort {
		logging.Infof("contentserver: already serving %s on %s", absRoot, s.baseURL)
		return s.baseURL, nil
	}
	s.stopLocked()

	ln, err := net.Listen("tcp", portprobe.Addr(port))
	if err != nil {
		return "", apperrors.PortUnavailable(port, err)
	}

	bound := port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		bound = tcp.Port
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.listener = ln
	s.port = port
	s.wsPort = wsPort
	s.root = absRoot
	s.baseURL = portprobe.BaseURL(bound)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("contentserver: http server error: %v", err)
		}
	}()

	logging.Infof("contentserver: serving %s on %s", absRoot, s.baseURL)
	return s.baseURL, nil
}

// Stop closes the listener and any in-flight connections immediately.
// Safe to call when stopped.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	if s.httpServer == nil {
		return
	}
	// Serve may not have taken the listener yet, in which case
	// httpServer.Close would leave the port bound.
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Warnf("contentserver: close listener: %v", err)
	}
	if err := s.httpServer.Close(); err != nil {
		logging.Warnf("contentserver: close: %v", err)
	}
	logging.Infof("contentserver: stopped serving %s", s.root)
	s.httpServer = nil
	s.listener = nil
	s.root = ""
	s.baseURL = ""
	s.port = 0
	s.wsPort = 0
}

// Running reports whether the server is accepting requests.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpServer != nil
}

// Serving reports whether Start(port, root, wsPort) would be a no-op.
func (s *Server) Serving(port int, root string, wsPort int) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpServer != nil && s.port == port && s.root == absRoot && s.wsPort == wsPort
}

// BaseURL returns the URL of the running server, or "".
func (s *Server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Port returns the bound port, or 0 when stopped.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.port
}

// Root returns the served project root, or "" when stopped.
func (s *Server) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

type requestContext struct {
	root   string
	wsPort int
	script ScriptOptions
}

func (s *Server) current() requestContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return requestContext{root: s.root, wsPort: s.wsPort, script: s.script}
}

// limitWorkers bounds concurrent requests to the worker pool size.
func (s *Server) limitWorkers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
		}
	})
}
