//go:build unix

package errors

import (
	"errors"
	"io"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// IsClientDisconnect reports whether err means the peer went away mid-write:
// broken pipe, connection reset, or connection aborted.
func IsClientDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var coded *CodedError
	if errors.As(err, &coded) && coded.Code == CodeClientDisconnected {
		return true
	}

	if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.ECONNABORTED) {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}

	// http2 and some wrapped writers lose the errno; fall back to the text.
	return matchesDisconnectText(err)
}

func matchesDisconnectText(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range disconnectMessages {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
