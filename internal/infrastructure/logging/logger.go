package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/u3640877/transitive/internal/infrastructure/config"
)

// serviceName tags every record; log aggregators key on it.
const serviceName = "transitived"

// Logger wraps slog.Logger with the daemon's conventions: a service and
// version field on every record, per-component child loggers, and a
// level that can be adjusted at runtime without rebuilding handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a Logger from daemon configuration.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version, stamped on every record
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	handler := newHandler(cfg, level).WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
	}
}

// newHandler builds the slog handler for the configured format and
// destination. JSON to stdout is the production shape; text is for
// development terminals.
func newHandler(cfg config.LoggingConfig, level slog.Leveler) slog.Handler {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(output, opts)
	}
	return slog.NewJSONHandler(output, opts)
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel re-parses and applies a level at runtime. Child loggers made
// with Component or With share the same level var, so one call adjusts
// the whole tree — useful for turning on debug logging against a live
// broker session.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// Component returns a child logger tagged with a component name. The
// daemon hands one to the mqttsync and api subsystems so records
// can be filtered per subsystem.
//
// Example:
//
//	syncLog := logger.Component("mqttsync")
//	syncLog.Info("ready") // Includes component=mqttsync
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// With returns a child logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

// Default creates a logger for use before configuration is loaded:
// JSON to stdout at info level. Only meant for early startup.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
