package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// testClient connects to the Redis at POLYCOPY_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYCOPY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYCOPY_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockExclusive(t *testing.T) {
	lm := NewLockManager(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, key, time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestStreamRoundTrip(t *testing.T) {
	sb := NewSignalBusWithMaxLen(testClient(t), 100)
	ctx := context.Background()
	stream := "test:stream:" + uuid.NewString()
	t.Cleanup(func() { _ = sb.rdb.Del(context.Background(), stream).Err() })

	if msgs, err := sb.StreamRead(ctx, stream, "0", 10); err != nil || len(msgs) != 0 {
		t.Fatalf("empty stream read = %v, %v", msgs, err)
	}
	for _, p := range []string{"a", "b"} {
		if err := sb.StreamAppend(ctx, stream, []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	msgs, err := sb.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestPublishSubscribe(t *testing.T) {
	sb := NewSignalBus(testClient(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel := "test:events:" + uuid.NewString()

	ch, err := sb.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sb.Publish(ctx, channel, []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-ch:
		if string(got) != "hello" {
			t.Fatalf("payload = %q", got)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}

func TestNewSignalBusWithMaxLenDefault(t *testing.T) {
	sb := NewSignalBusWithMaxLen(NewFromClient(nil), 0)
	if sb.maxLen != DefaultStreamMaxLen {
		t.Fatalf("maxLen = %d", sb.maxLen)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow %d = false, want true", i)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("fourth Allow = true, want false")
	}
}
