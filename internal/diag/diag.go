// Package diag provides the observability sink that sync components report to.
//
// Components never log through a package-level logger; they receive a Sink
// and emit structured events on it. NewLogSink renders those events with
// log/slog, Counters keeps running totals, and Tee fans out to several sinks.
package diag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Completion describes a finished sync cycle
type Completion struct {
	Index   string
	Fetched int
	Created int
	Updated int
}

// Sink receives events from the sync pipeline
type Sink interface {
	// Error reports a failure. Component names the reporting part ("reconcile", "syncer", ...).
	Error(ctx context.Context, component string, err error, attrs ...any)

	// Warn reports an anomaly that did not abort the operation.
	Warn(ctx context.Context, component string, msg string, attrs ...any)

	// Completed reports a finished cycle.
	Completed(ctx context.Context, c Completion)
}

// Nop returns a Sink that discards everything
func Nop() Sink { return nopSink{} }

type nopSink struct{}

func (nopSink) Error(context.Context, string, error, ...any) {}
func (nopSink) Warn(context.Context, string, string, ...any) {}
func (nopSink) Completed(context.Context, Completion)        {}

// LogSink writes events as slog records
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink wraps logger. A nil logger writes text to stderr.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = NewLogger(os.Stderr, "info", "text")
	}
	return &LogSink{logger: logger}
}

// Logger returns the underlying slog logger
func (s *LogSink) Logger() *slog.Logger { return s.logger }

func (s *LogSink) Error(ctx context.Context, component string, err error, attrs ...any) {
	args := append([]any{"component", component, "error", err}, attrs...)
	s.logger.ErrorContext(ctx, "sync error", args...)
}

func (s *LogSink) Warn(ctx context.Context, component string, msg string, attrs ...any) {
	args := append([]any{"component", component}, attrs...)
	s.logger.WarnContext(ctx, msg, args...)
}

func (s *LogSink) Completed(ctx context.Context, c Completion) {
	s.logger.InfoContext(ctx, "indexed",
		"index", c.Index,
		"fetched", c.Fetched,
		"created", c.Created,
		"updated", c.Updated,
	)
}

// NewLogger builds a slog logger for the given level ("debug", "info", "warn",
// "error") and format ("text" or "json")
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(s string) slog.Level {
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

// Counters keeps running totals of reported events
type Counters struct {
	Cycles   atomic.Int64
	Created  atomic.Int64
	Updated  atomic.Int64
	Errors   atomic.Int64
	Warnings atomic.Int64
}

func (c *Counters) Error(context.Context, string, error, ...any) { c.Errors.Add(1) }
func (c *Counters) Warn(context.Context, string, string, ...any) { c.Warnings.Add(1) }

func (c *Counters) Completed(_ context.Context, done Completion) {
	c.Cycles.Add(1)
	c.Created.Add(int64(done.Created))
	c.Updated.Add(int64(done.Updated))
}

// Snapshot returns the current totals
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"cycles":   c.Cycles.Load(),
		"created":  c.Created.Load(),
		"updated":  c.Updated.Load(),
		"errors":   c.Errors.Load(),
		"warnings": c.Warnings.Load(),
	}
}

// Tee forwards every event to all sinks in order
func Tee(sinks ...Sink) Sink { return teeSink(sinks) }

type teeSink []Sink

func (t teeSink) Error(ctx context.Context, component string, err error, attrs ...any) {
	for _, s := range t {
		s.Error(ctx, component, err, attrs...)
	}
}

func (t teeSink) Warn(ctx context.Context, component string, msg string, attrs ...any) {
	for _, s := range t {
		s.Warn(ctx, component, msg, attrs...)
	}
}

func (t teeSink) Completed(ctx context.Context, c Completion) {
	for _, s := range t {
		s.Completed(ctx, c)
	}
}
