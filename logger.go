package jsonindex

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"time"
)

// Logger wraps slog.Logger with jsonindex-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
}

// WithArea adds an area field to the logger.
func (l *Logger) WithArea(area string) *Logger {
	return &Logger{
		Logger: l.Logger.With("area", area),
	}
}

// LogDocument logs a document change.
func (l *Logger) LogDocument(ctx context.Context, op, area, key string, err error) {
	if err != nil {
		l.WarnContext(ctx, op+" failed",
			"area", area,
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"area", area,
			"key", key,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, query string, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"query", query,
			"hits", hits,
		)
	}
}

// LogCommit logs an explicit commit.
func (l *Logger) LogCommit(ctx context.Context, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit",
			"generation", generation,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, generation uint64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
			"generation", generation,
			"duration", d,
		)
	}
}

// LogRestore logs the outcome of a restore.
func (l *Logger) LogRestore(ctx context.Context, generation uint64, restored bool, err error) {
	switch {
	case err != nil && !restored:
		l.WarnContext(ctx, "no snapshot restored",
			"error", err,
		)
	default:
		l.InfoContext(ctx, "snapshot restored",
			"generation", generation,
		)
	}
}
