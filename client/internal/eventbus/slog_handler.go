package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// LogRecord is the payload of LogEntry.
type LogRecord struct {
	Time      time.Time
	Level     slog.Level
	Message   string
	Component string
	Attrs     map[string]any
}

// SlogHandler tees records at or above a minimum level onto the bus as
// LogEntry events, then passes every record to the wrapped handler.
type SlogHandler struct {
	inner slog.Handler
	bus   *Bus
	min   slog.Level
	attrs []slog.Attr
	group string
}

// NewSlogHandler wraps inner. Only records at min or above reach the bus.
func NewSlogHandler(inner slog.Handler, bus *Bus, min slog.Level) *SlogHandler {
	return &SlogHandler{inner: inner, bus: bus, min: min}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min {
		h.bus.Publish(LogEntry, h.record(r))
	}
	if !h.inner.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *SlogHandler) record(r slog.Record) LogRecord {
	rec := LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	add := func(a slog.Attr) {
		if a.Key == "component" {
			rec.Component = a.Value.String()
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		rec.Attrs[key] = a.Value.Resolve().Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})
	return rec
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogHandler{
		inner: h.inner.WithAttrs(attrs),
		bus:   h.bus,
		min:   h.min,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		group: h.group,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &SlogHandler{
		inner: h.inner.WithGroup(name),
		bus:   h.bus,
		min:   h.min,
		attrs: h.attrs,
		group: group,
	}
}
