// Package logging builds the service's slog loggers and carries a
// request-scoped logger through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
)

type Format string

const (
	FormatConsole Format = "console" // colored clog output for terminals
	FormatJSON    Format = "json"
)

func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatConsole, FormatJSON:
		return f, true
	case "":
		return FormatConsole, true
	default:
		return FormatConsole, false
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a slog
// level. Anything else falls back to info and reports false.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a logger writing to w, stdout when w is nil. Unknown levels
// and formats fall back to info and console; validate with ParseLevel and
// ParseFormat first when that matters.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl, _ := ParseLevel(level)
	f, _ := ParseFormat(format)

	if f == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(lvl),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	))
}

var fallback atomic.Pointer[slog.Logger]

func init() {
	fallback.Store(New("info", string(FormatConsole), os.Stdout))
}

// Default is the process logger used when no logger travels with a context.
func Default() *slog.Logger { return fallback.Load() }

func SetDefault(logger *slog.Logger) {
	if logger != nil {
		fallback.Store(logger)
	}
}

type loggerKey struct{}

func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithAttrs attaches a child of the context's logger carrying args.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return With(ctx, From(ctx).With(args...))
}

func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}
