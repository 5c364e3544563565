// Package log builds the process slog.Logger and the packet-level loggers
// used by the protocol servers.
//
// Without a log file, records below error go to stdout and errors go to
// stderr, so stderr can be redirected on its own.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// LevelTrace sits below Debug and enables per-packet hex dumps.
const LevelTrace slog.Level = -8

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// band limits a handler to levels in [min, below). Without bounded there is
// no upper limit.
type band struct {
	slog.Handler
	min, below slog.Level
	bounded    bool
}

func below(l slog.Level, h slog.Handler) band { return band{Handler: h, min: LevelTrace, below: l, bounded: true} }

func atLeast(l slog.Level, h slog.Handler) band { return band{Handler: h, min: l} }

func (b band) admits(l slog.Level) bool {
	return l >= b.min && (!b.bounded || l < b.below)
}

func (b band) Enabled(ctx context.Context, l slog.Level) bool {
	return b.admits(l) && b.Handler.Enabled(ctx, l)
}

func (b band) Handle(ctx context.Context, r slog.Record) error {
	if !b.admits(r.Level) {
		return nil
	}
	return b.Handler.Handle(ctx, r)
}

func (b band) WithAttrs(attrs []slog.Attr) slog.Handler {
	b.Handler = b.Handler.WithAttrs(attrs)
	return b
}

func (b band) WithGroup(name string) slog.Handler {
	b.Handler = b.Handler.WithGroup(name)
	return b
}

// Options selects level, destination and record format.
type Options struct {
	Level string
	File  string
	// Format is "text" (default) or "json".
	Format string
}

func newHandler(w io.Writer, format string, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// SetupLogger builds the process logger. Without a file, records below
// error go to stdout and errors to stderr. With a file, everything goes to
// both stderr and the file. The returned closers must be closed on shutdown.
func SetupLogger(o Options) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(o.Level)
	console, err := newHandler(os.Stdout, o.Format, level)
	if err != nil {
		return nil, nil, err
	}

	if o.File == "" {
		stderr, _ := newHandler(os.Stderr, o.Format, level)
		return slog.New(fanout{
			below(slog.LevelError, console),
			atLeast(slog.LevelError, stderr),
		}), nil, nil
	}

	f, err := os.OpenFile(o.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	stderr, _ := newHandler(os.Stderr, o.Format, level)
	file, _ := newHandler(f, o.Format, level)
	return slog.New(fanout{stderr, file}), []io.Closer{f}, nil
}
