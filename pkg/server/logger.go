package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mikeboe/research-reporter/pkg/store"
)

// LogHandler is a slog.Handler that records the logs of one run in the
// store, and optionally forwards them to another handler.
type LogHandler struct {
	Store      store.Store
	ResearchID string
	Next       slog.Handler

	attrs []slog.Attr
}

func NewLogHandler(st store.Store, researchID string, next slog.Handler) *LogHandler {
	return &LogHandler{
		Store:      st,
		ResearchID: researchID,
		Next:       next,
	}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	add := func(a slog.Attr) bool {
		v := a.Value.Resolve().Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs[a.Key] = v
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)
	attrs["research_id"] = h.ResearchID

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("research_id", h.ResearchID))
		_ = h.Next.Handle(ctx, rec)
	}

	// Logs of a detached run outlive the request that started it.
	return h.Store.AppendLog(context.WithoutCancel(ctx), h.ResearchID, store.LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.Next != nil {
		cp.Next = h.Next.WithAttrs(attrs)
	}
	return &cp
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return h
}
