// Package logging backs the domain logger contract with log/slog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
)

// DebugEnv forces debug logging when set to a non-empty value
const DebugEnv = "PKGAUDIT_DEBUG"

// SlogLogger adapts a *slog.Logger to interfaces.Logger
type SlogLogger struct {
	logger *slog.Logger
}

var _ interfaces.Logger = (*SlogLogger)(nil)

// New builds a logger writing to w. With format "auto" a terminal gets
// the text handler and anything else gets JSON.
func New(w io.Writer, cfg entities.LoggingConfig) (*SlogLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if os.Getenv(DebugEnv) != "" {
		level = slog.LevelDebug
	}

	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "auto":
		if isTerminal(w) {
			handler = slog.NewTextHandler(w, options)
		} else {
			handler = slog.NewJSONHandler(w, options)
		}
	case "text":
		handler = slog.NewTextHandler(w, options)
	case "json":
		handler = slog.NewJSONHandler(w, options)
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, text or json)", cfg.Format)
	}

	return &SlogLogger{logger: slog.New(handler)}, nil
}

// NewSlogLogger wraps an existing slog logger
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// ParseLevel converts a configured level name. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
}

// Slog returns the underlying slog logger
func (l *SlogLogger) Slog() *slog.Logger {
	return l.logger
}

// With returns a logger that adds fields to every record
func (l *SlogLogger) With(fields ...interfaces.Field) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(attrs(fields)...)}
}

// Debug logs at debug level
func (l *SlogLogger) Debug(msg string, fields ...interfaces.Field) {
	l.logger.Debug(msg, attrs(fields)...)
}

// Info logs at info level
func (l *SlogLogger) Info(msg string, fields ...interfaces.Field) {
	l.logger.Info(msg, attrs(fields)...)
}

// Warn logs at warn level
func (l *SlogLogger) Warn(msg string, fields ...interfaces.Field) {
	l.logger.Warn(msg, attrs(fields)...)
}

// Error logs at error level
func (l *SlogLogger) Error(msg string, fields ...interfaces.Field) {
	l.logger.Error(msg, attrs(fields)...)
}

func attrs(fields []interfaces.Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, slog.String(f.Key, err.Error()))
			continue
		}
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
