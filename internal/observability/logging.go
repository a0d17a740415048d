package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger for the service. When a
// log path is configured, events go only to that file: the retrieval core is
// typically supervised (systemd, container runtimes) and duplicating the
// structured stream onto stdout doubles every event in the collector. If the
// file cannot be opened the service still has to say what went wrong, so it
// falls back to stdout and notes the failure on stderr.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(level))

	out := io.Writer(os.Stdout)
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "hirag").Logger()

	// Route stdlib log output through zerolog so library code that still
	// uses log.Printf cannot bypass the structured stream.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// parseLevel maps a config string to a zerolog level, defaulting to info on
// anything unrecognized rather than failing startup over a typo.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
