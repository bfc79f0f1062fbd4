package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
)

type contextKey struct{}

var stdout io.Writer = os.Stdout

// Setup installs the default slog logger. With cfg.File set, records go to a
// rotating file instead of stdout. If the log directory cannot be created,
// records stay on stdout and the failure is logged there. The returned closer
// flushes the file sink.
func Setup(cfg config.LoggingConfig) io.Closer {
	out := stdout
	var closer io.Closer = nopCloser{}
	var dirErr error
	if cfg.File != "" {
		dirErr = os.MkdirAll(filepath.Dir(cfg.File), 0o755)
	}
	if cfg.File != "" && dirErr == nil {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = lj
		closer = lj
	}
	slog.SetDefault(slog.New(NewHandler(out, cfg.Level, cfg.Format)))
	if dirErr != nil {
		slog.Error("cannot create log directory, logging to stdout", "file", cfg.File, "error", dirErr)
	}
	return closer
}

// NewHandler builds the slog handler used by Setup.
func NewHandler(w io.Writer, level string, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// RequestID returns the request ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if requestID, ok := ctx.Value(contextKey{}).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
