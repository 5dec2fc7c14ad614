package domain

import (
	"context"
	"time"
)

// EventKind classifies events emitted by a copy session.
type EventKind string

const (
	EventSessionStarted      EventKind = "session_started"
	EventSessionStopped      EventKind = "session_stopped"
	EventTickSkipped         EventKind = "tick_skipped"
	EventFillDetected        EventKind = "fill_detected"
	EventOrderMirrored       EventKind = "order_mirrored"
	EventOrderSimulated      EventKind = "order_simulated"
	EventOrderFallback       EventKind = "order_fallback"
	EventOrderFailed         EventKind = "order_failed"
	EventFetchFailed         EventKind = "fetch_failed"
	EventPreconditionsFailed EventKind = "preconditions_failed"
)

// EventLevel is the severity of an event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is a log or error record handed to the outer boundary. Consumers
// render events; they never feed back into the session.
type Event struct {
	Kind    EventKind  `json:"kind"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
	TimeMs  int64      `json:"timeMs"`
	Address string     `json:"address,omitempty"`
	FillID  string     `json:"fillId,omitempty"`
	Token   string     `json:"token,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, level EventLevel, msg string) Event {
	return Event{Kind: kind, Level: level, Message: msg, TimeMs: time.Now().UnixMilli()}
}

// IsError reports whether the event describes a failure.
func (e Event) IsError() bool {
	return e.Level == LevelError
}

// EventSink consumes session events.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}
