//go:build !unix

package errors

import (
	"errors"
	"io"
	"net"
	"strings"
)

// IsClientDisconnect reports whether err means the peer went away mid-write.
// Without unix errnos the classification relies on the error text.
func IsClientDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var coded *CodedError
	if errors.As(err, &coded) && coded.Code == CodeClientDisconnected {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range disconnectMessages {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
