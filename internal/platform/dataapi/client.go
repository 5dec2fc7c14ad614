// Package dataapi implements the fill source over the venue's public data
// API. The API's route and payload shape vary between versions, so each
// known shape is an adapter and a configured version picks which ones are
// tried.
package dataapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	DefaultURL = "https://data-api.polymarket.com"

	// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
	DefaultUserAgent = "Mozilla/5.0"

	maxBodyBytes  = 16 << 20
	maxErrorBytes = 8 << 10
)

// Options configures a Source.
type Options struct {
	APIVersion string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Source fetches fills for a watched address.
type Source struct {
	host       string
	httpClient *http.Client
	userAgent  string
	candidates []Candidate
	logger     *slog.Logger
	now        func() time.Time
}

// NewSource validates host and resolves the adapter list for opts.APIVersion.
func NewSource(host string, opts Options) (*Source, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultURL
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("dataapi: parse url %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("dataapi: url must be http(s), got %q", host)
	}

	candidates, err := Candidates(opts.APIVersion)
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 12 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		host:       host,
		httpClient: client,
		userAgent:  ua,
		candidates: candidates,
		logger:     logger.With(slog.String("component", "dataapi")),
		now:        time.Now,
	}, nil
}

// Name identifies the source in logs and events.
func (s *Source) Name() string { return "data_api" }

// FetchFills returns the address's fills at or after sinceMs in the order
// the API returned them. Candidates are tried in priority order; the first
// one that answers with anything other than 401 or 404 decides the call.
func (s *Source) FetchFills(ctx context.Context, address string, sinceMs int64, limit int) ([]domain.Fill, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("dataapi: address required")
	}

	var lastErr error
	for _, c := range s.candidates {
		body, err := s.get(ctx, c.Path, c.query(address, sinceMs, limit))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dataapi: %s: %w", c.Name, ctx.Err())
			}
			if fallsThrough(err) {
				s.logger.Debug("candidate rejected",
					slog.String("candidate", c.Name),
					slog.String("error", err.Error()),
				)
				lastErr = fmt.Errorf("%s: %w", c.Name, err)
				continue
			}
			return nil, fmt.Errorf("dataapi: %s: %w", c.Name, err)
		}

		raws, err := c.Extract(body)
		if err != nil {
			return nil, fmt.Errorf("dataapi: %s: %w", c.Name, err)
		}
		return s.normalize(c, raws, address, sinceMs), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidates configured")
	}
	return nil, fmt.Errorf("dataapi: %w: %w", domain.ErrEndpointsExhausted, lastErr)
}

func (s *Source) normalize(c Candidate, raws []rawFill, address string, sinceMs int64) []domain.Fill {
	now := s.now()
	fills := make([]domain.Fill, 0, len(raws))
	for _, r := range raws {
		if c.ActivityOnly && !strings.EqualFold(string(r.Type), "TRADE") && r.Type != "" {
			continue
		}
		f := r.toDomain(address, now)
		if c.SinceParam == "" && sinceMs > 0 && f.TimestampMs < sinceMs {
			continue
		}
		fills = append(fills, f)
	}
	return fills
}

// fallsThrough reports whether the next candidate should be tried.
func fallsThrough(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrTransport)
}

func (s *Source) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := s.host + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, checkHTTPStatus(resp.StatusCode, readBodyLimit(resp.Body, maxErrorBytes))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrTransport, err)
	}
	return body, nil
}

// StatusError is a non-2xx response that does not map to a sentinel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%q", e.Code, e.Body)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func checkHTTPStatus(code int, body string) error {
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: status=%d body=%q", domain.ErrUnauthorized, code, body)
	case http.StatusNotFound:
		return fmt.Errorf("%w: status=%d body=%q", domain.ErrNotFound, code, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, &StatusError{Code: code, Body: body})
	default:
		return &StatusError{Code: code, Body: body}
	}
}

func readBodyLimit(r io.Reader, limit int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return strings.TrimSpace(string(b))
}
