// Package errors provides standardized error codes for the live-reload host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (port, path, client, server, watcher, ...)
//   - error: The specific error type within that domain
//
// Codes are stable so the CLI and the status endpoint can report them without
// parsing free-form messages. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Port domain - listener port selection
	CodePortUnavailable = "port.unavailable" // Requested port busy and searching is disabled
	CodePortExhausted   = "port.exhausted"   // No free port between the requested one and 65535

	// Path domain - request path resolution
	CodePathTraversalRejected = "path.traversal_rejected" // Request tried to escape the project root

	// Client domain - browser side of a connection went away
	CodeClientDisconnected = "client.disconnected" // Broken pipe, reset or aborted during a write

	// Server domain - HTTP and WebSocket serving
	CodeServerFault         = "server.fault"          // Unexpected failure while serving a request
	CodeServerUpgradeFailed = "server.upgrade_failed" // WebSocket upgrade failed
	CodeServerSendFailed    = "server.send_failed"    // Failed to deliver a message to a session

	// Watcher domain - secondary directory watcher
	CodeWatcherFault = "watcher.fault" // Watch registration failed

	// Executor domain - scheduled-task pool
	CodeExecutorShutdownTimeout = "executor.shutdown_timeout" // Pool did not drain within the grace period
	CodeExecutorClosed          = "executor.closed"           // Task submitted after shutdown

	// Service domain - orchestrator lifecycle
	CodeServiceNotRunning     = "service.not_running"     // Operation requires a running service
	CodeServiceAlreadyRunning = "service.already_running" // Start requested while running

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value out of range

	// Storage domain - journal persistence
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "port.unavailable")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	if IsClientDisconnect(err) {
		return CodeClientDisconnected
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	return GetCode(err), GetMessage(err)
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// PortUnavailable creates a "port.unavailable" error.
func PortUnavailable(port int, cause error) *CodedError {
	return Wrap(CodePortUnavailable, fmt.Sprintf("port %d is busy", port), cause)
}

// PortExhausted creates a "port.exhausted" error.
// This indicates a linear scan from the requested port up to 65535 found nothing.
func PortExhausted(from int) *CodedError {
	return New(CodePortExhausted, fmt.Sprintf("no free port between %d and 65535", from))
}

// PathTraversalRejected creates a "path.traversal_rejected" error.
func PathTraversalRejected(path string) *CodedError {
	return New(CodePathTraversalRejected, fmt.Sprintf("blocked suspicious path: %s", path))
}

// ClientDisconnected creates a "client.disconnected" error.
func ClientDisconnected(cause error) *CodedError {
	return Wrap(CodeClientDisconnected, "client disconnected during transfer", cause)
}

// ServerFault creates a "server.fault" error.
func ServerFault(message string, cause error) *CodedError {
	return Wrap(CodeServerFault, message, cause)
}

// WatcherFault creates a "watcher.fault" error.
func WatcherFault(path string, cause error) *CodedError {
	return Wrap(CodeWatcherFault, fmt.Sprintf("failed to watch %s", path), cause)
}

// ExecutorShutdownTimeout creates an "executor.shutdown_timeout" error.
// The count is the number of tasks that were force-cancelled.
func ExecutorShutdownTimeout(cancelled int) *CodedError {
	return New(CodeExecutorShutdownTimeout, fmt.Sprintf("executor did not terminate gracefully, %d task(s) cancelled", cancelled))
}

// ServiceNotRunning creates a "service.not_running" error.
func ServiceNotRunning() *CodedError {
	return New(CodeServiceNotRunning, "live reload service is not running")
}

// ServiceAlreadyRunning creates a "service.already_running" error.
func ServiceAlreadyRunning() *CodedError {
	return New(CodeServiceAlreadyRunning, "live reload service is already running")
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
