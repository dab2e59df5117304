package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey struct{}

type fields struct {
	requestID string
	alias     string
}

// Setup installs the process-wide slog handler writing to stdout.
func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	f := fieldsFrom(ctx)
	f.requestID = requestID
	return context.WithValue(ctx, contextKey{}, f)
}

// WithAlias tags every log line produced through FromContext with the
// alias being refreshed.
func WithAlias(ctx context.Context, alias string) context.Context {
	f := fieldsFrom(ctx)
	f.alias = alias
	return context.WithValue(ctx, contextKey{}, f)
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	f := fieldsFrom(ctx)
	if f.requestID != "" {
		logger = logger.With("request_id", f.requestID)
	}
	if f.alias != "" {
		logger = logger.With("alias", f.alias)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func fieldsFrom(ctx context.Context) fields {
	if f, ok := ctx.Value(contextKey{}).(fields); ok {
		return f
	}
	return fields{}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
