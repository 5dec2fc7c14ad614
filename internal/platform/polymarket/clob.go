// Package polymarket holds the venue execution clients: the signed-order
// CLOB client used as the primary path and the raw orders transport used as
// a fallback.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB. It signs orders
// with the local key and authenticates requests with L2 credentials that
// are either configured or derived on first use.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	opts       OrderOptions

	deriveMu sync.Mutex
	mu       sync.RWMutex
	hmacAuth *crypto.HMACAuth
}

// NewClobClient creates a CLOB client. creds may be nil; the client then
// derives credentials before its first authenticated call.
func NewClobClient(baseURL string, signer *crypto.Signer, creds *crypto.HMACAuth, opts OrderOptions) (*ClobClient, error) {
	if signer == nil {
		return nil, fmt.Errorf("polymarket/clob: %w", domain.ErrNoCredential)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("polymarket/clob: invalid base url %q", baseURL)
	}
	if !creds.Complete() {
		creds = nil
	}
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		opts:     opts,
		hmacAuth: creds,
	}, nil
}

// HasCredentials reports whether L2 credentials are attached.
func (c *ClobClient) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hmacAuth != nil
}

// Credentials returns the attached L2 credentials, or nil.
func (c *ClobClient) Credentials() *crypto.HMACAuth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hmacAuth
}

// EnsureCredentials derives and attaches L2 credentials when none are
// attached yet.
func (c *ClobClient) EnsureCredentials(ctx context.Context) error {
	if c.HasCredentials() {
		return nil
	}
	c.deriveMu.Lock()
	defer c.deriveMu.Unlock()
	if c.HasCredentials() {
		return nil
	}
	creds, err := c.DeriveAPIKey(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hmacAuth = creds
	c.mu.Unlock()
	return nil
}

// DeriveAPIKey performs the L1 auth flow: it signs a ClobAuth message and
// sends it with POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP and POLY_NONCE
// headers. An account that has never created a key gets one created.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (*crypto.HMACAuth, error) {
	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err == nil {
		return creds, nil
	}
	created, cerr := c.l1Request(ctx, http.MethodPost, "/auth/api-key")
	if cerr != nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w (create: %v)", err, cerr)
	}
	return created, nil
}

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (*crypto.HMACAuth, error) {
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var authResp apiCredsResponse
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	creds := &crypto.HMACAuth{Key: authResp.APIKey, Secret: authResp.Secret, Passphrase: authResp.Passphrase}
	if !creds.Complete() {
		return nil, fmt.Errorf("auth response missing credentials")
	}
	return creds, nil
}

// UpdateBalanceAllowance asks the venue to refresh its cached collateral
// balance and allowance for the account.
func (c *ClobClient) UpdateBalanceAllowance(ctx context.Context) error {
	q := url.Values{}
	q.Set("asset_type", "COLLATERAL")
	q.Set("signature_type", strconv.Itoa(c.opts.SignatureType))

	if _, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/balance-allowance/update", q, nil); err != nil {
		return fmt.Errorf("polymarket/clob: update balance allowance: %w", err)
	}
	return nil
}

// PlaceOrder builds, signs and posts the mirrored order, deriving
// credentials first when none are attached.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.MirrorOrderRequest) (domain.OrderResult, error) {
	if err := c.EnsureCredentials(ctx); err != nil {
		return domain.OrderResult{}, err
	}
	order, err := BuildOrder(c.signer, req, c.opts)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return c.PostOrder(ctx, order)
}

// PostOrder submits a signed order and returns the venue's verdict.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderResult, error) {
	creds := c.Credentials()
	if creds == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: no api credentials", domain.ErrUnauthorized)
	}
	body := postOrderRequest{
		Order:     toAPIOrder(order),
		Owner:     creds.Key,
		OrderType: string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", nil, body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// doAuthenticatedRequest sends a request with L2 headers. The HMAC covers
// the path without its query string.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, q url.Values, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds := c.Credentials(); creds != nil {
		for k, v := range creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}
	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return &HTTPError{Code: statusCode, Body: bodyStr}
	}
}

// HTTPError is a non-2xx venue response without a sentinel mapping.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body) }

// Temporary reports whether a retry may succeed.
func (e *HTTPError) Temporary() bool { return e.Code >= 500 }
