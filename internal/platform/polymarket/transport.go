package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

// OrderTransport posts the plain mirror request to the venue's orders
// endpoint. It is the fallback when the signed-order client is unusable and
// carries the same request fields the primary path starts from.
type OrderTransport struct {
	baseURL    string
	owner      string
	httpClient *http.Client
	creds      func() *crypto.HMACAuth
}

// NewOrderTransport creates the fallback transport. creds may return nil;
// requests are then sent without L2 headers.
func NewOrderTransport(baseURL, owner string, creds func() *crypto.HMACAuth) *OrderTransport {
	if creds == nil {
		creds = func() *crypto.HMACAuth { return nil }
	}
	return &OrderTransport{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		owner:   owner,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds: creds,
	}
}

type rawOrderRequest struct {
	Market       string  `json:"market"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex *int    `json:"outcomeIndex,omitempty"`
	Side         string  `json:"side"`
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	SlippageBps  int     `json:"slippageBps"`
	Owner        string  `json:"owner,omitempty"`
}

// Submit posts req to /orders and returns the venue's order id.
func (t *OrderTransport) Submit(ctx context.Context, req domain.MirrorOrderRequest) (domain.OrderResult, error) {
	if req.MarketID == "" && req.OutcomeID == "" {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: %w: market or outcome required", domain.ErrInvalidOrder)
	}
	if req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: %w: size must be positive", domain.ErrInvalidOrder)
	}

	payload, err := json.Marshal(rawOrderRequest{
		Market:       req.MarketID,
		Outcome:      req.OutcomeID,
		OutcomeIndex: req.OutcomeIndex,
		Side:         strings.ToUpper(string(req.Side)),
		Price:        req.Price,
		Size:         req.Size,
		SlippageBps:  req.SlippageBps,
		Owner:        t.owner,
	})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: marshal: %w", err)
	}

	const path = "/orders"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if creds := t.creds(); creds != nil {
		for k, v := range creds.L2Headers(t.owner, http.MethodPost, path, string(payload)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: %w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: %w: read response: %w", domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/transport: %w", err)
	}

	var apiResult APIOrderResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &apiResult); err != nil {
			return domain.OrderResult{}, fmt.Errorf("polymarket/transport: decode response: %w", err)
		}
	}
	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "no order id in response"
		}
		return result, fmt.Errorf("polymarket/transport: order rejected: %s", msg)
	}
	return result, nil
}
