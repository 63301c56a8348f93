package logger

import (
	"fmt"
	"io"
	"log/slog"
)

type Logger struct {
	l *slog.Logger
}

func New(l *slog.Logger) *Logger {
	return &Logger{l: l}
}

// NewJSON writes one JSON object per line, the format used by the server.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Discard is used by tests.
func Discard() *Logger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// With returns a logger that adds attrs to every record.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{l: l.l.With(attrs...)}
}

func (l *Logger) Slog() *slog.Logger {
	return l.l
}

func (l *Logger) LogErrorf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
}

func (l *Logger) LogWarn(format string, v ...any) {
	l.l.Warn(fmt.Sprintf(format, v...))
}

func (l *Logger) LogInfo(format string, v ...any) {
	l.l.Info(fmt.Sprintf(format, v...))
}

// LogAttrs logs msg at info level with structured key/value pairs.
func (l *Logger) LogAttrs(msg string, attrs ...any) {
	l.l.Info(msg, attrs...)
}
