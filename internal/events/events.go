// Package events delivers copy-session events to the outer boundary: the
// process log, Redis subscribers, operator notifications and an in-memory
// buffer served over HTTP.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Default Redis keys for published events.
const (
	DefaultChannel = "copy:events"
	DefaultStream  = "copy:events:log"
)

// DefaultRecorderSize is the Recorder capacity used when none is given.
const DefaultRecorderSize = 256

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs ev at the level it carries.
func (s *LogSink) Emit(ctx context.Context, ev domain.Event) {
	level := slog.LevelInfo
	switch ev.Level {
	case domain.LevelWarn:
		level = slog.LevelWarn
	case domain.LevelError:
		level = slog.LevelError
	}
	attrs := []slog.Attr{slog.String("kind", string(ev.Kind))}
	if ev.Address != "" {
		attrs = append(attrs, slog.String("address", ev.Address))
	}
	if ev.FillID != "" {
		attrs = append(attrs, slog.String("fill_id", ev.FillID))
	}
	if ev.Token != "" {
		attrs = append(attrs, slog.String("token", ev.Token))
	}
	s.logger.LogAttrs(ctx, level, ev.Message, attrs...)
}

// BusSink publishes events as JSON on a pub/sub channel and appends them to
// a durable stream.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewBusSink creates a BusSink. Empty channel or stream names fall back to
// the defaults.
func NewBusSink(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *BusSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &BusSink{
		bus:     bus,
		channel: channel,
		stream:  stream,
		timeout: 2 * time.Second,
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

// Emit publishes ev. Delivery failures are logged and dropped.
func (s *BusSink) Emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("publish event", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		s.logger.Warn("append event", slog.String("error", err.Error()))
	}
}

// Notifier is the operator notification channel.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifySink forwards mirrored orders and failures to a Notifier.
type NotifySink struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewNotifySink creates a NotifySink.
func NewNotifySink(n Notifier, logger *slog.Logger) *NotifySink {
	return &NotifySink{notifier: n, logger: logger.With(slog.String("component", "event_notify"))}
}

// Emit notifies for confirmed, fallback and failed orders and any
// error-level event. Everything else is ignored.
func (s *NotifySink) Emit(ctx context.Context, ev domain.Event) {
	switch {
	case ev.Kind == domain.EventOrderMirrored, ev.Kind == domain.EventOrderFallback, ev.IsError():
	default:
		return
	}

	title := fmt.Sprintf("polycopy: %s", ev.Kind)
	msg := ev.Message
	if ev.Address != "" {
		msg += "\naddress: " + ev.Address
	}
	if ev.Token != "" {
		msg += "\ntoken: " + ev.Token
	}
	if err := s.notifier.Notify(ctx, string(ev.Kind), title, msg); err != nil {
		s.logger.Warn("notify", slog.String("error", err.Error()))
	}
}

// Fanout emits each event to every sink in order.
type Fanout []domain.EventSink

// Emit forwards ev to each sink.
func (f Fanout) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Recorder keeps the most recent events in a ring buffer.
type Recorder struct {
	mu    sync.RWMutex
	buf   []domain.Event
	next  int
	full  bool
	total uint64
}

// NewRecorder creates a Recorder holding up to capacity events.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderSize
	}
	return &Recorder{buf: make([]domain.Event, capacity)}
}

// Emit records ev, evicting the oldest event when full.
func (r *Recorder) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all
// buffered events.
func (r *Recorder) Recent(limit int) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Event, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Total returns the number of events ever recorded.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

var (
	_ domain.EventSink = (*LogSink)(nil)
	_ domain.EventSink = (*BusSink)(nil)
	_ domain.EventSink = (*NotifySink)(nil)
	_ domain.EventSink = Fanout(nil)
	_ domain.EventSink = (*Recorder)(nil)
)
