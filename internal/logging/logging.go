// Package logging gates the standard library logger by level.
//
// All packages log through log.Printf with a lowercase component prefix;
// this package only adds the debug/info/warn/error threshold configured by
// log_level so debug-only drops stay quiet by default.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// Level is a logging threshold.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel converts a config string into a Level.
// Empty input means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn, error)", s)
	}
}

// SetLevel changes the global threshold.
func SetLevel(l Level) {
	current.Store(int32(l))
}

// SetOutput redirects the standard logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool {
	return int32(l) >= current.Load()
}

// Debugf logs a diagnostic message, written only at debug level.
func Debugf(format string, args ...interface{}) {
	if Enabled(LevelDebug) {
		log.Printf("[debug] "+format, args...)
	}
}

// Infof logs a routine message.
func Infof(format string, args ...interface{}) {
	if Enabled(LevelInfo) {
		log.Printf(format, args...)
	}
}

// Warnf logs a recoverable problem with a "Warning: " prefix.
func Warnf(format string, args ...interface{}) {
	if Enabled(LevelWarn) {
		log.Printf("Warning: "+format, args...)
	}
}

// Errorf logs a failure with an "Error: " prefix.
func Errorf(format string, args ...interface{}) {
	if Enabled(LevelError) {
		log.Printf("Error: "+format, args...)
	}
}
