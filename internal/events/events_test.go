package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return b.err
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return b.err
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memNotifier struct {
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderKeepsMostRecent(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Emit(context.Background(), domain.Event{Message: string(rune('a' + i))})
	}
	got := r.Recent(0)
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("recent = %+v", got)
	}
	if last := r.Recent(1); len(last) != 1 || last[0].Message != "e" {
		t.Fatalf("last = %+v", last)
	}
	if r.Total() != 5 {
		t.Fatalf("total = %d", r.Total())
	}
}

func TestRecorderPartial(t *testing.T) {
	r := NewRecorder(10)
	r.Emit(context.Background(), domain.Event{Message: "x"})
	r.Emit(context.Background(), domain.Event{Message: "y"})
	got := r.Recent(5)
	if len(got) != 2 || got[0].Message != "x" || got[1].Message != "y" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestBusSinkPublishesJSON(t *testing.T) {
	bus := newMemBus()
	s := NewBusSink(bus, "", "", discardLogger())

	ev := domain.NewEvent(domain.EventFillDetected, domain.LevelInfo, "fill seen")
	ev.Address = "0xabc"
	s.Emit(context.Background(), ev)

	if len(bus.published[DefaultChannel]) != 1 || len(bus.streamed[DefaultStream]) != 1 {
		t.Fatalf("published=%d streamed=%d", len(bus.published[DefaultChannel]), len(bus.streamed[DefaultStream]))
	}
	var got domain.Event
	if err := json.Unmarshal(bus.published[DefaultChannel][0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != domain.EventFillDetected || got.Address != "0xabc" {
		t.Fatalf("event = %+v", got)
	}
}

func TestBusSinkSwallowsErrors(t *testing.T) {
	bus := newMemBus()
	bus.err = errors.New("redis down")
	NewBusSink(bus, "c", "s", discardLogger()).Emit(context.Background(), domain.Event{Kind: domain.EventOrderFailed})
	if len(bus.published["c"]) != 1 {
		t.Fatalf("publish not attempted")
	}
}

func TestNotifySinkFilters(t *testing.T) {
	n := &memNotifier{}
	s := NewNotifySink(n, discardLogger())

	s.Emit(context.Background(), domain.NewEvent(domain.EventFillDetected, domain.LevelInfo, "x"))
	s.Emit(context.Background(), domain.NewEvent(domain.EventOrderSimulated, domain.LevelInfo, "x"))
	s.Emit(context.Background(), domain.NewEvent(domain.EventOrderMirrored, domain.LevelInfo, "x"))
	s.Emit(context.Background(), domain.NewEvent(domain.EventFetchFailed, domain.LevelError, "x"))

	want := []string{"order_mirrored", "fetch_failed"}
	if strings.Join(n.events, ",") != strings.Join(want, ",") {
		t.Fatalf("notified %v, want %v", n.events, want)
	}
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	ev := domain.NewEvent(domain.EventOrderFailed, domain.LevelError, "order failed")
	ev.FillID = "f1"
	s.Emit(context.Background(), ev)

	out := buf.String()
	for _, want := range []string{`"level":"ERROR"`, `"kind":"order_failed"`, `"fill_id":"f1"`, `"component":"events"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %s missing %s", out, want)
		}
	}
}

func TestFanout(t *testing.T) {
	a, b := NewRecorder(4), NewRecorder(4)
	Fanout{a, nil, b}.Emit(context.Background(), domain.Event{Message: "m"})
	if a.Total() != 1 || b.Total() != 1 {
		t.Fatalf("fanout missed a sink")
	}
}
