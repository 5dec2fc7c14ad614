package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type memSender struct {
	name string
	err  error
	sent []string
}

func (m *memSender) Send(_ context.Context, title, _ string) error {
	m.sent = append(m.sent, title)
	return m.err
}

func (m *memSender) Name() string { return m.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, []string{"order_failed", " fetch_failed "}, quietLogger())

	_ = n.Notify(context.Background(), "order_mirrored", "a", "")
	_ = n.Notify(context.Background(), "order_failed", "b", "")
	_ = n.Notify(context.Background(), "fetch_failed", "c", "")
	if strings.Join(s.sent, ",") != "b,c" {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestNotifierCooldown(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, nil, quietLogger()).WithCooldown(time.Minute)
	now := time.Unix(1000, 0)
	n.now = func() time.Time { return now }

	_ = n.Notify(context.Background(), "fetch_failed", "x", "")
	_ = n.Notify(context.Background(), "fetch_failed", "x", "")
	_ = n.Notify(context.Background(), "fetch_failed", "y", "")
	now = now.Add(2 * time.Minute)
	_ = n.Notify(context.Background(), "fetch_failed", "x", "")

	if strings.Join(s.sent, ",") != "x,y,x" {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &memSender{name: "bad", err: errors.New("down")}
	good := &memSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Fatalf("err = %v", err)
	}
	if len(good.sent) != 1 {
		t.Fatalf("good sender skipped")
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["content"] != "**title**\nbody" {
		t.Fatalf("content = %q", got["content"])
	}
}

func telegramServer(t *testing.T, sendStatus int, sent *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botsecret-token/getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"copy","username":"copybot"}}`))
		case "/botsecret-token/sendMessage":
			_ = r.ParseForm()
			*sent = append(*sent, r.Form.Get("chat_id")+"|"+r.Form.Get("text"))
			if sendStatus != http.StatusOK {
				w.WriteHeader(sendStatus)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSender(t *testing.T) {
	var sent []string
	srv := telegramServer(t, http.StatusOK, &sent)

	s := NewTelegramSender("secret-token", "42")
	s.endpoint = srv.URL + "/bot%s/%s"
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(context.Background(), "again", "body"); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if len(sent) != 2 || sent[0] != "42|title\nbody" {
		t.Fatalf("sent = %q", sent)
	}
}

func TestTelegramSenderRedactsToken(t *testing.T) {
	var sent []string
	srv := telegramServer(t, http.StatusBadRequest, &sent)

	s := NewTelegramSender("secret-token", "@channel")
	s.endpoint = srv.URL + "/bot%s/%s"
	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked: %v", err)
	}
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "@channel|") {
		t.Fatalf("sent = %q", sent)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("truncate short = %q", got)
	}
}
