// Package logging holds the process-wide zerolog logger shared by every component.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
)

func initDefaultLogger() {
	var w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(os.Stderr)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(w)
	}
	defaultLogger = logger.With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if env := strings.TrimSpace(os.Getenv("LOG_LEVEL")); env != "" {
		if level, err := zerolog.ParseLevel(strings.ToLower(env)); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
}

// GetDefaultLogger returns the process logger.
func GetDefaultLogger() *zerolog.Logger {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	l := defaultLogger
	return &l
}

// GetSubsystemLogger returns a logger tagged with the given component name.
func GetSubsystemLogger(component string) *zerolog.Logger {
	l := GetDefaultLogger().With().Str("component", component).Logger()
	return &l
}

// SetOutput replaces the sink of the process logger. Used by tests to capture output.
func SetOutput(logger zerolog.Logger) {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()
}

// VerboseLevel maps the numeric verbosity setting onto a zerolog level.
// 0 is info, 1 is debug and anything higher is trace.
func VerboseLevel(level int) zerolog.Level {
	switch {
	case level <= 0:
		return zerolog.InfoLevel
	case level == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SetVerboseLevel adjusts the global log level at runtime.
func SetVerboseLevel(level int) {
	defaultLoggerOnce.Do(initDefaultLogger)
	zerolog.SetGlobalLevel(VerboseLevel(level))
}
