package mvccindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/mvccindex/model"
)

// Logger wraps slog.Logger with mvccindex-specific context.
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

// NewJSONLogger creates a Logger that writes JSON records to w.
// A nil w writes to stderr.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that writes human-readable records to w.
// A nil w writes to stderr.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithComponent tags records with the emitting subsystem.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// WithSegment adds a segment field.
func (l *Logger) WithSegment(id model.SegmentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id.Short()),
	}
}

// WithWorker adds a worker field.
func (l *Logger) WithWorker(n int) *Logger {
	return &Logger{
		Logger: l.Logger.With("worker", n),
	}
}

// WithScan adds a scan id field, correlating the records of one scan.
func (l *Logger) WithScan(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("scan", id),
	}
}

// LogScan logs the outcome of an aggregation scan.
func (l *Logger) LogScan(ctx context.Context, segments, docs int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "Scan failed",
			"segments", segments,
			"duration", d,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "Scan completed",
			"segments", segments,
			"docs", docs,
			"duration", d,
		)
	}
}

// LogFlush logs a segment flush or staging.
func (l *Logger) LogFlush(ctx context.Context, kind string, id model.SegmentID, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "Segment write failed",
			"kind", kind,
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "Segment written",
			"kind", kind,
			"segment", id.Short(),
			"rows", rows,
		)
	}
}

// LogMerge logs a segment merge.
func (l *Logger) LogMerge(ctx context.Context, inputs int, out model.SegmentID, docs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "Merge failed",
			"inputs", inputs,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "Merge completed",
			"inputs", inputs,
			"segment", out.Short(),
			"docs", docs,
		)
	}
}

// LogReclaim logs a vacuum pass.
func (l *Logger) LogReclaim(ctx context.Context, stats VacuumStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "Vacuum failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "Vacuum completed",
			"pruned", stats.PrunedVersions,
			"all_visible", stats.AllVisibleBlocks,
			"deleted_docs", stats.DeletedDocs,
			"reclaimed", stats.ReclaimedSegments,
			"skipped", stats.SkippedSegments,
			"freed_delete_extents", stats.FreedDeleteExtents,
		)
	}
}

// LogCheckpoint logs a checkpoint.
func (l *Logger) LogCheckpoint(ctx context.Context, generation uint64, pages int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "Checkpoint failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "Checkpoint saved",
			"generation", generation,
			"pages", pages,
		)
	}
}
