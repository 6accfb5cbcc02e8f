package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Dev gets a console writer at debug
// level; other envs log JSON at info unless level overrides it.
func NewLogger(env, level, service string) zerolog.Logger {
	dev := strings.EqualFold(env, "dev")
	lvl := zerolog.InfoLevel
	if dev {
		lvl = zerolog.DebugLevel
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Str("service", service).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
