package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/polycopy/internal/platform/dataapi"
)

func tradesServer(t *testing.T, hits *atomic.Int32, fillID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/trades" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"` + fillID + `","asset":"111","conditionId":"0xc1","side":"BUY","price":0.5,"size":4,"timestamp":1700000000}]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDataAPISourceFollowsSessionHost(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	a := tradesServer(t, &hitsA, "fill-a")
	b := tradesServer(t, &hitsB, "fill-b")

	src, err := newDataAPISource(a.URL, dataapi.Options{APIVersion: dataapi.VersionTrades})
	if err != nil {
		t.Fatalf("newDataAPISource: %v", err)
	}
	ctx := context.Background()

	fills, err := src.FetchFills(ctx, "0xabc", 0, 10)
	if err != nil || len(fills) != 1 || fills[0].ID != "fill-a" {
		t.Fatalf("first fetch = %+v, %v", fills, err)
	}

	first := src.src
	if err := src.use(a.URL + "/"); err != nil {
		t.Fatalf("use same host: %v", err)
	}
	if src.src != first {
		t.Fatal("client rebuilt for an unchanged host")
	}
	if err := src.use(""); err != nil || src.src != first {
		t.Fatalf("empty host should keep the current client, err=%v", err)
	}

	if err := src.use(b.URL); err != nil {
		t.Fatalf("use new host: %v", err)
	}
	fills, err = src.FetchFills(ctx, "0xabc", 0, 10)
	if err != nil || len(fills) != 1 || fills[0].ID != "fill-b" {
		t.Fatalf("second fetch = %+v, %v", fills, err)
	}
	if hitsB.Load() == 0 {
		t.Fatal("new host never queried")
	}

	if err := src.use("ftp://nope"); err == nil {
		t.Fatal("use accepted a non-http host")
	}
	if src.src == nil {
		t.Fatal("failed use dropped the working client")
	}
}
