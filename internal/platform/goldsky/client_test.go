package goldsky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func TestFetchFillsClassifiesSides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization = %q", got)
		}
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Variables["since"] != "1700000000" {
			t.Errorf("since = %v, want seconds", req.Variables["since"])
		}
		_, _ = w.Write([]byte(`{"data":{
			"asMaker":[{"id":"e2","transactionHash":"0x2","timestamp":"1700000200","makerAssetId":"0","makerAmountFilled":"4000000","takerAssetId":"777","takerAmountFilled":"10000000"}],
			"asTaker":[{"id":"e1","transactionHash":"0x1","timestamp":"1700000100","makerAssetId":"0","makerAmountFilled":"6000000","takerAssetId":"888","takerAmountFilled":"10000000"}]
		}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	fills, err := c.FetchFills(context.Background(), "0xABC", 1700000000000, 10)
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills", len(fills))
	}

	// Taker fill is older so it comes first. The taker received collateral,
	// so it sold token 888.
	if fills[0].ID != "e1" || fills[0].Side != domain.SideSell || fills[0].OutcomeID != "888" {
		t.Fatalf("unexpected taker fill %+v", fills[0])
	}
	if fills[0].Size != 10 || fills[0].Price != 0.6 {
		t.Fatalf("taker size/price = %v/%v", fills[0].Size, fills[0].Price)
	}

	// Maker gave collateral, so it bought token 777 at 0.4.
	if fills[1].Side != domain.SideBuy || fills[1].OutcomeID != "777" || fills[1].Price != 0.4 {
		t.Fatalf("unexpected maker fill %+v", fills[1])
	}
	if fills[1].TimestampMs != 1700000200000 || fills[1].SourceAddress != "0xabc" {
		t.Fatalf("timestamp/address = %d/%s", fills[1].TimestampMs, fills[1].SourceAddress)
	}
}

func TestFetchFillsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").FetchFills(context.Background(), "0xabc", 0, 10)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	gql := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad field"}]}`))
	}))
	defer gql.Close()

	if _, err := NewClient(gql.URL, "").FetchFills(context.Background(), "0xabc", 0, 10); err == nil {
		t.Fatalf("expected graphql error")
	}
}
