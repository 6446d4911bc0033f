// Package logging holds the process-wide structured logger. Everything logs
// through the package functions so the output format and level can be
// switched once at startup or on config reload.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	mu            sync.RWMutex
)

func init() {
	level.Set(slog.LevelInfo)
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Configure replaces the logger. format is "json" or "text"; level is a
// slog level name such as "debug" or "warn".
func Configure(lvl, format string, w io.Writer) error {
	l, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	level.Set(l)
	SetLogger(slog.New(h))
	return nil
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// SetLogger sets the global logger.
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// SetOutput sends JSON output to w at the current level.
func SetOutput(w io.Writer) {
	SetLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// SetLevel changes the level of loggers built by this package without
// rebuilding them.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current level.
func Level() slog.Level { return level.Level() }

// Logger returns the default logger
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns a logger with additional context
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any) { Logger().Info(msg, args...) }
func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().ErrorContext(ctx, msg, args...)
}

// Common field helpers

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

func Remote(addr string) slog.Attr {
	return slog.String("remote", addr)
}

// Command logs a protocol command by name and code.
func Command(name string, code uint8) slog.Attr {
	return slog.Group("command", slog.String("name", name), slog.String("code", fmt.Sprintf("0x%02X", code)))
}
