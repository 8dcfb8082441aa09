package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newLogger(os.Stderr, "console")
)

// Setup configures the process logger. Unknown levels fall back to info.
func Setup(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	l := newLogger(os.Stderr, format)
	mu.Lock()
	log = l
	mu.Unlock()
}

// L returns the process logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// ParseLevel maps a textual level to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newLogger(w io.Writer, format string) zerolog.Logger {
	if strings.ToLower(format) == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}
