// Package logging builds the slog logger used across the tool. File mode
// appends timestamped records to the configured log file for silent cron
// runs; console mode keeps stdout readable and routes warnings and errors
// to stderr.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Options selects the log destination and verbosity.
type Options struct {
	// LogFile redirects output to a file when non-empty.
	LogFile string
	// Verbose lowers the level to debug.
	Verbose bool

	// Out and Err override the console destinations, used by tests.
	Out io.Writer
	Err io.Writer
}

// New returns the configured logger and a close function for the underlying
// log file. The close function is non-nil and safe to call in all modes.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
		return slog.New(handler), f.Close, nil
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.Err
	if errOut == nil {
		errOut = os.Stderr
	}

	// Console records drop the time attribute; cron and journald add their own.
	replace := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		return a
	}

	handler := &splitHandler{
		out: slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: replace}),
		err: slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level, ReplaceAttr: replace}),
	}
	return slog.New(handler), func() error { return nil }, nil
}

// splitHandler routes warning and error records to one handler and everything
// else to another.
type splitHandler struct {
	out slog.Handler
	err slog.Handler
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.out.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.err.Handle(ctx, r)
	}
	return h.out.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{out: h.out.WithAttrs(attrs), err: h.err.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{out: h.out.WithGroup(name), err: h.err.WithGroup(name)}
}
