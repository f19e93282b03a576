// Package logging sets up the slog loggers used across the ingest
// pipeline: one unscoped logger for the outer supervisor loop, and one
// per-session logger that additionally writes to a file inside the
// session directory.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// NewBaseLogger returns the supervisor-level logger, writing text-
// formatted records to stderr at the given level.
func NewBaseLogger(level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// sessionCloser closes the underlying file handle once a session's
// logging is done; Close is idempotent.
type sessionCloser struct {
	file *os.File
}

func (c *sessionCloser) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// fanout passes each record to the process-wide stderr handler and the
// session file handler, each only when that handler is enabled for the
// record's level.
type fanout struct {
	stderr slog.Handler
	file   slog.Handler
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return f.stderr.Enabled(ctx, level) || f.file.Enabled(ctx, level)
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	if f.stderr.Enabled(ctx, record.Level) {
		if err := f.stderr.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	if !f.file.Enabled(ctx, record.Level) {
		return nil
	}
	return f.file.Handle(ctx, record.Clone())
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanout{stderr: f.stderr.WithAttrs(attrs), file: f.file.WithAttrs(attrs)}
}

func (f fanout) WithGroup(name string) slog.Handler {
	return fanout{stderr: f.stderr.WithGroup(name), file: f.file.WithGroup(name)}
}

// NewSessionLogger returns a logger, with attrs bound, that writes each
// record both to stderr (at level) and to <dir>/run.log (at debug and
// above), and returns a closer the caller must invoke once the session
// finishes so the log shipper sees a complete file.
func NewSessionLogger(dir string, level slog.Level, attrs ...any) (*slog.Logger, func() error, error) {
	path := filepath.Join(dir, "run.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, func() error { return nil }, err
	}

	combined := fanout{
		stderr: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		file:   slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}

	logger := slog.New(combined).With(attrs...)
	return logger, (&sessionCloser{file: f}).Close, nil
}
