package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level string
}

// Logger writes JSON lines. Arguments after the message are slog
// key/value pairs.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(cfg *Config) *Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *Logger {
	opts := &slog.HandlerOptions{
		Level: getLoggerLevel(cfg.Level),
	}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(w, opts)),
	}
}

func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Slog exposes the underlying logger for libraries that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func getLoggerLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
