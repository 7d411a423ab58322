package stream

import (
	"context"
	"log/slog"
	"time"
)

// Event is a progress notification pushed to live clients.
type Event struct {
	Type      string      `json:"type"`
	Key       string      `json:"key,omitempty"`
	Value     interface{} `json:"value,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// Target routes the event to a single connection. Empty means broadcast.
	Target string `json:"-"`
}

// Log builds a "logs" event, the kind agents emit while they work.
func Log(key string, value interface{}) Event {
	return Event{Type: "logs", Key: key, Value: value, Timestamp: time.Now()}
}

// Sink receives progress events. Stages always report through a Sink; the
// choice between live streaming and local logging is made by whoever builds it.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Send(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogSink writes progress events as structured log records.
type LogSink struct {
	Logger *slog.Logger
	Agent  string
}

func NewLogSink(logger *slog.Logger, agent string) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger, Agent: agent}
}

func (s *LogSink) Send(ctx context.Context, event Event) error {
	s.Logger.InfoContext(ctx, "progress",
		"agent", s.Agent,
		"type", event.Type,
		"key", event.Key,
		"value", event.Value,
	)
	return nil
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Emit sends an event and only logs a failed delivery. Progress is advisory;
// a lost subscriber does not fail the work being reported on.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Send(ctx, event); err != nil {
		slog.Debug("Progress event not delivered", "key", event.Key, "error", err)
	}
}
