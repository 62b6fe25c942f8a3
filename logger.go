package hybridann

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with hybridann-specific field helpers and
// per-operation logging methods.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger from an arbitrary slog.Handler.
// If handler is nil, uses a text handler to stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON-formatted logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that writes human-readable logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// WithLabel returns a derived Logger with a "label" field attached.
func (l *Logger) WithLabel(label uint64) *Logger {
	return &Logger{Logger: l.Logger.With("label", label)}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, label uint64, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "label", label, "dimension", dimension, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "label", label, "dimension", dimension)
}

// LogRemove logs a remove operation.
func (l *Logger) LogRemove(ctx context.Context, label uint64) {
	l.DebugContext(ctx, "remove completed", "label", label)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, searchListSize, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "search_list_size", searchListSize, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "k", k, "search_list_size", searchListSize, "results", resultsFound)
}

// LogMerge logs a merge/compaction run.
func (l *Logger) LogMerge(ctx context.Context, memPoints, diskPointsBefore, diskPointsAfter int, durationSeconds float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed", "mem_points", memPoints, "disk_points_before", diskPointsBefore, "error", err)
		return
	}
	l.InfoContext(ctx, "merge completed",
		"mem_points", memPoints,
		"disk_points_before", diskPointsBefore,
		"disk_points_after", diskPointsAfter,
		"duration_seconds", durationSeconds,
	)
}

// LogReload logs a disk index (re)load.
func (l *Logger) LogReload(ctx context.Context, prefix string, numPoints int, err error) {
	if err != nil {
		l.WarnContext(ctx, "disk index load failed, operating memory-only", "prefix", prefix, "error", err)
		return
	}
	l.InfoContext(ctx, "disk index loaded", "prefix", prefix, "num_points", numPoints)
}
