// Package dnslog provides the single logging seam the rest of dnssrc writes
// through. It wraps a logr.Logger so call sites stay structured
// ("key", value pairs) instead of formatted strings, matching the facade the
// teacher routes its own setup and hot-path logging through.
package dnslog

import (
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Level selects which V() messages are emitted.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel parses one of "debug", "info", "warn" or "error" (case
// insensitive); unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu  sync.RWMutex
	cur = newLogger(LevelInfo)
)

func newLogger(l Level) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			os.Stderr.WriteString(prefix + ": " + args + "\n")
			return
		}
		os.Stderr.WriteString(args + "\n")
	}, funcr.Options{
		LogCaller: funcr.None,
		Verbosity: int(l),
	})
}

// SetLevel reconfigures the default logger's verbosity. Call once at
// startup after parsing configuration.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	cur = newLogger(l)
}

// L returns the current default logger.
func L() logr.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

// Debug logs at V(int(LevelDebug)) — only visible when the level is set to debug.
func Debug(msg string, kv ...any) { L().V(int(LevelDebug)).Info(msg, kv...) }

// Info logs at the default (info) verbosity.
func Info(msg string, kv ...any) { L().V(int(LevelInfo)).Info(msg, kv...) }

// Warn logs a warning; always visible regardless of level.
func Warn(msg string, kv ...any) { L().Info("WARN "+msg, kv...) }

// Error logs an error with its cause.
func Error(err error, msg string, kv ...any) { L().Error(err, msg, kv...) }
