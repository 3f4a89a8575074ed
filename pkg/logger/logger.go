// Package logger provides the application's slog setup and shared attribute helpers.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the root logger.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds the root slog.Logger. The level comes from LOG_LEVEL
// (debug, info, warn/warning, error; default info). When GO_ENV=production
// the logger emits JSON, otherwise human-readable text.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Scope returns the conventional scope attribute used to namespace log lines
// per component (e.g. "nodes.svc", "store.memory").
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns the conventional error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
