package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Development gets debug level and a
// console writer; everything else gets JSON at info. A non-empty level
// ("debug", "warn", ...) overrides the environment default.
func NewLogger(appEnv, level string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, level)
}

func newLogger(out io.Writer, appEnv, level string) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Millisecond

	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "assetslicer").
		Logger()
}

// Logger aliases zerolog.Logger so packages can accept the service logger
// without naming the third-party module.
type Logger = zerolog.Logger
