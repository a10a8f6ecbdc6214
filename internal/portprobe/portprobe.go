// Package portprobe checks TCP port availability on localhost and finds a
// free port by scanning upward from a preferred one.
package portprobe

import (
	"fmt"
	"net"
	"strconv"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
)

// MaxPort is the last port a search considers.
const MaxPort = 65535

// Host is the interface probed. Servers bind the same name.
const Host = "localhost"

// IsAvailable reports whether a listener can be bound on localhost:port.
// The listener is released immediately. Any bind failure (in use,
// permission, out of range) reports false.
func IsAvailable(port int) bool {
	if port < 1 || port > MaxPort {
		return false
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(Host, strconv.Itoa(port)))
	if err != nil {
		logging.Debugf("portprobe: port %d is already in use: %v", port, err)
		return false
	}
	ln.Close()
	return true
}

// Probe abstracts availability checks so callers can be tested without
// binding real sockets.
type Probe func(port int) bool

// Resolve returns port when it is free. Otherwise, when search is set, it
// scans upward to MaxPort and returns the first free port; it fails with
// port.exhausted when none is found and port.unavailable when search is off.
func Resolve(port int, search bool) (int, error) {
	return ResolveWith(IsAvailable, port, search)
}

// ResolveWith is Resolve with an explicit availability check.
func ResolveWith(available Probe, port int, search bool) (int, error) {
	if available(port) {
		return port, nil
	}
	if !search {
		return 0, apperrors.PortUnavailable(port, nil)
	}

	start := port
	if start < 1 {
		start = 1
	}
	for p := start; p <= MaxPort; p++ {
		if available(p) {
			if p != port {
				logging.Infof("portprobe: port %d busy, using free port %d", port, p)
			}
			return p, nil
		}
	}
	return 0, apperrors.PortExhausted(port)
}

// Addr formats the localhost listen address for port.
func Addr(port int) string {
	return net.JoinHostPort(Host, strconv.Itoa(port))
}

// BaseURL is the http URL of a server bound with Addr.
func BaseURL(port int) string {
	return fmt.Sprintf("http://%s:%d", Host, port)
}
