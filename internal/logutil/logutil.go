package logutil

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	logger  = log.NewWithOptions(os.Stderr, log.Options{Prefix: "pagecast", ReportTimestamp: true, Level: log.InfoLevel})
	verbose bool
	mu      sync.RWMutex
)

// SetVerbose adjusts the global logging level.
func SetVerbose(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = enable
	if enable {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// With returns a child logger carrying the given key/value pairs. The child
// copies the current level, so SetVerbose must run first.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

// Debugf logs a debug message when verbose logging is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Leveled adapts the logger for retryablehttp clients.
func Leveled(l *log.Logger) retryablehttp.LeveledLogger {
	if l == nil {
		l = logger
	}
	return leveled{l: l}
}

type leveled struct {
	l *log.Logger
}

func (a leveled) Error(msg string, keyvals ...any) { a.l.Error(msg, sanitize(keyvals)...) }
func (a leveled) Info(msg string, keyvals ...any)  { a.l.Debug(msg, sanitize(keyvals)...) }
func (a leveled) Debug(msg string, keyvals ...any) { a.l.Debug(msg, sanitize(keyvals)...) }
func (a leveled) Warn(msg string, keyvals ...any)  { a.l.Warn(msg, sanitize(keyvals)...) }

// sanitize drops request values so access tokens in URLs never reach the log.
func sanitize(keyvals []any) []any {
	out := make([]any, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch key {
		case "request", "url":
			continue
		}
		out = append(out, key, keyvals[i+1])
	}
	return out
}
