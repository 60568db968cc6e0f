package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// TeeHandler forwards every record to base and copies records at or above
// minLevel into sink. Only sink is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	sink     func(Entry)
	minLevel slog.Level
	group    string
}

// NewTeeHandler wraps base. A nil sink makes the handler a plain pass-through.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, sink func(Entry)) *TeeHandler {
	return &TeeHandler{base: base, sink: sink, minLevel: minLevel}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level) || (h.sink != nil && level >= h.minLevel)
}

// Handle returns the base handler's error; the sink sees the record either way.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	var err error
	if h.base.Enabled(ctx, record.Level) {
		err = h.base.Handle(ctx, record)
	}

	if h.sink != nil && record.Level >= h.minLevel {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// stderr, not slog: logging here would re-enter this handler.
					fmt.Fprintf(os.Stderr, "[logging] sink panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.sink(Entry{Time: record.Time, Level: record.Level, Message: record.Message, Source: h.group})
		}()
	}
	return err
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &TeeHandler{base: h.base.WithAttrs(attrs), sink: h.sink, minLevel: h.minLevel, group: h.group}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TeeHandler{base: h.base.WithGroup(name), sink: h.sink, minLevel: h.minLevel, group: group}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
