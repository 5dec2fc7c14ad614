package dataapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/syncstate"
)

const addr = "0xAbC0000000000000000000000000000000000001"

type hitRecorder struct {
	mu    sync.Mutex
	paths []string
	query map[string]string
}

func (h *hitRecorder) record(r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths = append(h.paths, r.URL.Path)
	if h.query == nil {
		h.query = map[string]string{}
	}
	h.query[r.URL.Path] = r.URL.RawQuery
}

func newSource(t *testing.T, url, version string) *Source {
	t.Helper()
	s, err := NewSource(url, Options{APIVersion: version})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return s
}

func TestFetchFillsThirdCandidateWins(t *testing.T) {
	var hits hitRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.record(r)
		switch r.URL.Path {
		case "/v2/fills":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/fills":
			w.WriteHeader(http.StatusUnauthorized)
		case "/trades":
			_, _ = w.Write([]byte(`[
				{"transactionHash":"0xaaa","asset":"111","conditionId":"0xc1","side":"SELL","price":"0.42","size":10,"timestamp":1700000000,"outcomeIndex":1},
				{"id":"t-2","asset":"222","conditionId":"0xc2","side":"buy","price":0.5,"size":"3.5","timestamp":"1700000100"}
			]`))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fills, err := newSource(t, srv.URL, VersionAuto).FetchFills(ctx, addr, 0, 50)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}

	want := []string{"/v2/fills", "/v1/fills", "/trades"}
	if strings.Join(hits.paths, ",") != strings.Join(want, ",") {
		t.Fatalf("attempted %v, want %v", hits.paths, want)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}

	f := fills[0]
	if f.ID != "0xaaa:111" {
		t.Fatalf("composite id = %q", f.ID)
	}
	if f.Side != domain.SideSell || f.Price != 0.42 || f.Size != 10 {
		t.Fatalf("unexpected fill %+v", f)
	}
	if f.TimestampMs != 1700000000000 {
		t.Fatalf("timestamp = %d, want ms", f.TimestampMs)
	}
	if f.MarketID != "0xc1" || f.OutcomeID != "111" {
		t.Fatalf("market/outcome = %q/%q", f.MarketID, f.OutcomeID)
	}
	if f.OutcomeIndex == nil || *f.OutcomeIndex != 1 {
		t.Fatalf("outcome index not carried")
	}
	if f.SourceAddress != strings.ToLower(addr) {
		t.Fatalf("source address = %q", f.SourceAddress)
	}

	if fills[1].ID != "t-2" || fills[1].Side != domain.SideBuy || fills[1].Size != 3.5 {
		t.Fatalf("unexpected second fill %+v", fills[1])
	}
	if !strings.Contains(hits.query["/trades"], "user=") {
		t.Fatalf("trades adapter did not send user param: %s", hits.query["/trades"])
	}
}

func TestFetchFillsFirstAuthoritativeErrorStops(t *testing.T) {
	var hits hitRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.record(r)
		if r.URL.Path == "/v2/fills" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL, VersionAuto).FetchFills(context.Background(), addr, 0, 10)
	if err == nil {
		t.Fatalf("expected error from authoritative 500")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || !se.Temporary() {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if len(hits.paths) != 1 {
		t.Fatalf("attempted %v, want only the first candidate", hits.paths)
	}
}

func TestFetchFillsAllExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fills" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL, VersionAuto).FetchFills(context.Background(), addr, 0, 10)
	if !errors.Is(err, domain.ErrEndpointsExhausted) {
		t.Fatalf("expected ErrEndpointsExhausted, got %v", err)
	}
	// The last candidate answered 401, so the wrapped cause is unauthorized.
	if !errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected most recent error to be unauthorized, got %v", err)
	}
}

func TestFetchFillsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newSource(t, url, VersionV1).FetchFills(context.Background(), addr, 0, 10)
	if !errors.Is(err, domain.ErrEndpointsExhausted) || !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected exhausted transport error, got %v", err)
	}
}

func TestConfiguredVersionThenDefault(t *testing.T) {
	var hits hitRecorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.record(r)
		if r.URL.Path == "/v1/fills" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"trades":[{"id":"x","timestamp":1700000000}]}`))
	}))
	defer srv.Close()

	fills, err := newSource(t, srv.URL, VersionV1).FetchFills(context.Background(), addr, 0, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if strings.Join(hits.paths, ",") != "/v1/fills,/trades" {
		t.Fatalf("attempted %v", hits.paths)
	}
	if len(fills) != 1 || fills[0].ID != "x" {
		t.Fatalf("unexpected fills %+v", fills)
	}
}

func TestSinceSentInSecondsAndFilteredLocally(t *testing.T) {
	hits := &hitRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.record(r)
		_, _ = w.Write([]byte(`{"fills":[
			{"id":"old","timestamp":1699999999},
			{"id":"edge","timestamp":1700000000},
			{"id":"new","timestamp":1700000005}
		]}`))
	}))
	defer srv.Close()

	fills, err := newSource(t, srv.URL, VersionV2).FetchFills(context.Background(), addr, 1700000000000, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if !strings.Contains(hits.query["/v2/fills"], "since=1700000000") {
		t.Fatalf("since not sent in seconds: %s", hits.query["/v2/fills"])
	}
	// v2 filters server side, so everything returned is kept.
	if len(fills) != 3 {
		t.Fatalf("got %d fills, want 3", len(fills))
	}

	hits = &hitRecorder{}
	fills, err = newSource(t, srv.URL, VersionTrades).FetchFills(context.Background(), addr, 1700000000000, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if strings.Contains(hits.query["/trades"], "since") {
		t.Fatalf("trades adapter should not send since: %s", hits.query["/trades"])
	}
	if len(fills) != 2 || fills[0].ID != "edge" || fills[1].ID != "new" {
		t.Fatalf("local since filter wrong: %+v", fills)
	}
}

func TestNormalizationDefaults(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_000)
	cases := []struct {
		name string
		raw  rawFill
		want domain.Fill
	}{
		{
			name: "missing numbers and bad timestamp",
			raw:  rawFill{ID: "a", Side: "Sell", Timestamp: []byte(`"garbage"`)},
			want: domain.Fill{ID: "a", Side: domain.SideBuy, TimestampMs: now.UnixMilli()},
		},
		{
			name: "tx hash falls back to market",
			raw:  rawFill{TxHash: "0xfeed", Market: "m1", Side: "sell", Timestamp: []byte(`1700000000`)},
			want: domain.Fill{ID: "0xfeed:m1", MarketID: "m1", Side: domain.SideSell, TimestampMs: 1700000000000, TxHash: "0xfeed"},
		},
		{
			name: "millisecond timestamp kept",
			raw:  rawFill{ID: "b", Timestamp: []byte(`1700000000123`)},
			want: domain.Fill{ID: "b", Side: domain.SideBuy, TimestampMs: 1700000000123},
		},
		{
			name: "no ids and no timestamp",
			raw:  rawFill{Asset: "111", ConditionID: "0xc1", Side: "BUY", Price: 0.5, Size: 10},
			want: domain.Fill{ID: "0xc1:111:buy:0.5:10", MarketID: "0xc1", OutcomeID: "111", Side: domain.SideBuy, Price: 0.5, Size: 10, TimestampMs: now.UnixMilli()},
		},
		{
			name: "no ids with venue timestamp",
			raw:  rawFill{Asset: "111", ConditionID: "0xc1", Side: "SELL", Price: 0.5, Size: 10, Timestamp: []byte(`1700000000`)},
			want: domain.Fill{ID: "0xc1:111:sell:0.5:10:1700000000000", MarketID: "0xc1", OutcomeID: "111", Side: domain.SideSell, Price: 0.5, Size: 10, TimestampMs: 1700000000000},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.raw.toDomain("", now)
			got.OutcomeIndex = nil
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPartialRecordKeepsIDAcrossPolls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"asset":"111","conditionId":"0xc1","side":"BUY","price":0.5,"size":10}]`))
	}))
	defer srv.Close()

	s := newSource(t, srv.URL, VersionTrades)
	tracker := syncstate.New(0)
	clock := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return clock }

	first, err := s.FetchFills(context.Background(), addr, 0, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if fresh := tracker.Observe(addr, first); len(fresh) != 1 {
		t.Fatalf("first poll: got %d fresh fills, want 1", len(fresh))
	}

	clock = clock.Add(5 * time.Second)
	second, err := s.FetchFills(context.Background(), addr, 0, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("id changed between polls: %q then %+v", first[0].ID, second)
	}
	if fresh := tracker.Observe(addr, second); len(fresh) != 0 {
		t.Fatalf("second poll re-reported %d fills", len(fresh))
	}
}

func TestCandidatesUnknownVersion(t *testing.T) {
	if _, err := Candidates("v9"); err == nil {
		t.Fatalf("expected error for unknown version")
	}
	c, err := Candidates(VersionTrades)
	if err != nil || len(c) != 1 {
		t.Fatalf("default version should not be listed twice: %v %v", c, err)
	}
}
