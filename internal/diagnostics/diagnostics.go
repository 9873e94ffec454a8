// Package diagnostics records publish failures, sink skips and sensor errors
// so they can be inspected after the fact. Recording never blocks the
// device loop.
package diagnostics

import (
	"context"
	"log/slog"
	"time"
)

type Kind string

const (
	KindPublishError Kind = "publish_error"
	KindSinkSkipped  Kind = "sink_skipped"
	KindSensorError  Kind = "sensor_error"
)

// Event is one diagnostic entry. Source names the sink or sensor kind.
type Event struct {
	At      time.Time
	Uptime  time.Duration
	Kind    Kind
	Source  string
	Message string
}

type Recorder interface {
	Record(e Event)
}

// Reader is implemented by recorders that keep history.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(Event) {}

// Logger writes events to slog. Skips are routine and logged at debug.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Record(e Event) {
	level := slog.LevelWarn
	if e.Kind == KindSinkSkipped {
		level = slog.LevelDebug
	}
	l.L.Log(context.Background(), level, "diagnostic",
		"kind", string(e.Kind),
		"source", e.Source,
		"uptime", e.Uptime,
		"message", e.Message,
	)
}

// Multi fans an event out to every recorder in order.
type Multi []Recorder

func (m Multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}
