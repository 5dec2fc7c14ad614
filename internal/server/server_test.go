package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/events"
	"github.com/alanyoungcy/polycopy/internal/scheduler"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
)

type fakeSession struct {
	mu       sync.Mutex
	running  bool
	started  []domain.CopySettings
	startErr error
	tickErr  error
}

func (f *fakeSession) Start(_ context.Context, s domain.CopySettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, s)
	f.running = true
	return nil
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeSession) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSession) Tick(context.Context) (scheduler.Report, error) {
	if f.tickErr != nil {
		return scheduler.Report{}, f.tickErr
	}
	return scheduler.Report{Addresses: 2, Fetched: 3, New: 1, Submitted: 1}, nil
}

func (f *fakeSession) Status() scheduler.Status {
	return scheduler.Status{Running: f.Running(), Addresses: []string{"0xabc"}}
}

type fakeMirrors struct {
	records []domain.MirrorRecord
	opts    domain.ListOpts
	err     error
}

func (f *fakeMirrors) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.MirrorRecord, error) {
	f.opts = opts
	return f.records, f.err
}

func testServer(t *testing.T, sess *fakeSession, mirrors *fakeMirrors, rec *events.Recorder, checks map[string]handler.Check) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaults := func() domain.CopySettings {
		return domain.CopySettings{
			TargetAddresses: []string{"0xabc"},
			CopyFactor:      1,
			MaxSlippageBps:  50,
			DryRun:          true,
			PollInterval:    5 * time.Second,
		}
	}
	mux := Routes(Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Session: handler.NewSessionHandler(sess, defaults, logger),
		Mirrors: handler.NewMirrorHandler(mirrors, logger),
		Events:  handler.NewEventHandler(rec),
	}, nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestSessionStartStop(t *testing.T) {
	sess := &fakeSession{}
	srv := testServer(t, sess, &fakeMirrors{}, events.NewRecorder(8), nil)

	code, body := do(t, http.MethodPost, srv.URL+"/api/session/start", "")
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("start = %d %v", code, body)
	}
	if len(sess.started) != 1 || !sess.started[0].DryRun || sess.started[0].CopyFactor != 1 {
		t.Fatalf("started with %+v", sess.started)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/api/session", "")
	if code != http.StatusOK || body["running"] != true {
		t.Fatalf("status = %d %v", code, body)
	}

	code, body = do(t, http.MethodPost, srv.URL+"/api/session/stop", "")
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("stop = %d %v", code, body)
	}
	if sess.Running() {
		t.Fatal("session still running after stop")
	}
}

func TestSessionStartOverrides(t *testing.T) {
	sess := &fakeSession{}
	srv := testServer(t, sess, &fakeMirrors{}, events.NewRecorder(8), nil)

	body := `{"targetAddresses":["0xdef"],"copyFactor":0.5,"dryRun":false,"pollIntervalMs":2500,"executionMode":"fixed","fixedSize":7}`
	if code, out := do(t, http.MethodPost, srv.URL+"/api/session/start", body); code != http.StatusOK {
		t.Fatalf("start = %d %v", code, out)
	}
	got := sess.started[0]
	if got.TargetAddresses[0] != "0xdef" || got.CopyFactor != 0.5 || got.DryRun ||
		got.PollInterval != 2500*time.Millisecond || got.ExecutionMode != domain.ExecutionModeFixed || got.FixedSize != 7 {
		t.Fatalf("settings = %+v", got)
	}
	if got.MaxSlippageBps != 50 {
		t.Fatalf("slippage = %d, want default 50", got.MaxSlippageBps)
	}
}

func TestSessionStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"bad json", nil, "{", http.StatusBadRequest},
		{"no credential", domain.ErrNoCredential, "", http.StatusPreconditionFailed},
		{"invalid settings", errors.New("copy settings: no target addresses"), "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakeSession{startErr: tt.err}, &fakeMirrors{}, events.NewRecorder(8), nil)
			code, body := do(t, http.MethodPost, srv.URL+"/api/session/start", tt.body)
			if code != tt.want || body["ok"] != false {
				t.Fatalf("start = %d %v, want %d", code, body, tt.want)
			}
		})
	}
}

func TestSessionTick(t *testing.T) {
	srv := testServer(t, &fakeSession{}, &fakeMirrors{}, events.NewRecorder(8), nil)
	code, body := do(t, http.MethodPost, srv.URL+"/api/session/tick", "")
	if code != http.StatusOK || body["submitted"] != float64(1) {
		t.Fatalf("tick = %d %v", code, body)
	}

	srv = testServer(t, &fakeSession{tickErr: scheduler.ErrTickInProgress}, &fakeMirrors{}, events.NewRecorder(8), nil)
	if code, _ := do(t, http.MethodPost, srv.URL+"/api/session/tick", ""); code != http.StatusConflict {
		t.Fatalf("busy tick = %d, want 409", code)
	}
}

func TestListMirrors(t *testing.T) {
	mirrors := &fakeMirrors{records: []domain.MirrorRecord{{ID: "m1", FillID: "f1", Status: domain.MirrorConfirmed}}}
	srv := testServer(t, &fakeSession{}, mirrors, events.NewRecorder(8), nil)

	code, body := do(t, http.MethodGet, srv.URL+"/api/mirrors?limit=5&offset=2", "")
	if code != http.StatusOK {
		t.Fatalf("mirrors = %d", code)
	}
	list, _ := body["mirrors"].([]any)
	if len(list) != 1 {
		t.Fatalf("mirrors = %v", body)
	}
	if mirrors.opts.Limit != 5 || mirrors.opts.Offset != 2 {
		t.Fatalf("opts = %+v", mirrors.opts)
	}

	mirrors.err = errors.New("db down")
	if code, _ := do(t, http.MethodGet, srv.URL+"/api/mirrors", ""); code != http.StatusInternalServerError {
		t.Fatalf("failing store = %d", code)
	}
}

func TestRecentEvents(t *testing.T) {
	rec := events.NewRecorder(8)
	for _, k := range []domain.EventKind{domain.EventSessionStarted, domain.EventFillDetected, domain.EventOrderMirrored} {
		rec.Emit(context.Background(), domain.NewEvent(k, domain.LevelInfo, string(k)))
	}
	srv := testServer(t, &fakeSession{}, &fakeMirrors{}, rec, nil)

	code, body := do(t, http.MethodGet, srv.URL+"/api/events?limit=2", "")
	if code != http.StatusOK || body["total"] != float64(3) {
		t.Fatalf("events = %d %v", code, body)
	}
	list, _ := body["events"].([]any)
	if len(list) != 2 {
		t.Fatalf("events = %v", list)
	}
	last, _ := list[1].(map[string]any)
	if last["kind"] != string(domain.EventOrderMirrored) {
		t.Fatalf("last event = %v", last)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &fakeSession{}, &fakeMirrors{}, events.NewRecorder(8), map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	})
	if code, body := do(t, http.MethodGet, srv.URL+"/api/health", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}

	srv = testServer(t, &fakeSession{}, &fakeMirrors{}, events.NewRecorder(8), map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	code, body := do(t, http.MethodGet, srv.URL+"/api/health", "")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("health = %d %v", code, body)
	}
}
