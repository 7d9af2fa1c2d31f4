package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger. Only the first call
// has any effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		globalLogger = newLogger(os.Stderr, level, pretty)
		log.Logger = globalLogger
	})
}

func newLogger(out io.Writer, level string, pretty bool) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// Component returns a logger tagged with the emitting package.
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithContext creates a logger with context fields
func WithContext(fields map[string]interface{}) zerolog.Logger {
	return GetLogger().With().Fields(fields).Logger()
}

// WithConnectionID tags a logger with a connection id. An empty id gets a
// fresh one.
func WithConnectionID(logger zerolog.Logger, connectionID string) zerolog.Logger {
	if connectionID == "" {
		connectionID = NewConnectionID()
	}
	return logger.With().Str("connection_id", connectionID).Logger()
}

// NewConnectionID generates the 32 hex digit id the service expects in
// X-ConnectionId.
func NewConnectionID() string {
	return NoDashID()
}

// NewRequestID generates a turn request id.
func NewRequestID() string {
	return NoDashID()
}

// NoDashID returns a random UUID in upper-case hex without dashes.
func NoDashID() string {
	id := uuid.New()
	const hex = "0123456789ABCDEF"
	out := make([]byte, 32)
	for i, b := range id {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}
