// Package goldsky is an alternate fill source backed by the Goldsky
// subgraph that indexes CTF Exchange OrderFilled events.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// collateralAssetID is the asset id the exchange uses for USDC.
const collateralAssetID = "0"

var amountScale = decimal.New(1, 6)

// Client is a GraphQL client for the Goldsky subgraph indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Goldsky GraphQL client.
//
// graphqlURL is the Goldsky subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/polymarket-orderbook-resync/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the source in logs and events.
func (c *Client) Name() string { return "goldsky" }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type orderFilledEvent struct {
	ID                string `json:"id"`
	TransactionHash   string `json:"transactionHash"`
	Timestamp         string `json:"timestamp"`
	Maker             string `json:"maker"`
	MakerAssetID      string `json:"makerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	Taker             string `json:"taker"`
	TakerAssetID      string `json:"takerAssetId"`
	TakerAmountFilled string `json:"takerAmountFilled"`
}

const fillsQuery = `
	query AddressFills($addr: String!, $since: BigInt!, $first: Int!) {
		asMaker: orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { maker: $addr, timestamp_gte: $since }
		) { ...fill }
		asTaker: orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { taker: $addr, timestamp_gte: $since }
		) { ...fill }
	}
	fragment fill on OrderFilledEvent {
		id
		transactionHash
		timestamp
		maker
		makerAssetId
		makerAmountFilled
		taker
		takerAssetId
		takerAmountFilled
	}
`

// FetchFills returns fills where address was maker or taker, oldest first.
func (c *Client) FetchFills(ctx context.Context, address string, sinceMs int64, limit int) ([]domain.Fill, error) {
	address = domain.NormalizeAddress(address)
	if limit <= 0 {
		limit = 100
	}

	data, err := c.doQuery(ctx, fillsQuery, map[string]any{
		"addr":  address,
		"since": strconv.FormatInt(sinceMs/1000, 10),
		"first": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch fills: %w", err)
	}

	var result struct {
		AsMaker []orderFilledEvent `json:"asMaker"`
		AsTaker []orderFilledEvent `json:"asTaker"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode fills: %w", err)
	}

	fills := make([]domain.Fill, 0, len(result.AsMaker)+len(result.AsTaker))
	for _, e := range result.AsMaker {
		fills = append(fills, e.toFill(address, true))
	}
	for _, e := range result.AsTaker {
		fills = append(fills, e.toFill(address, false))
	}
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].TimestampMs < fills[j].TimestampMs })
	return fills, nil
}

// toFill classifies the event from address's side of the trade. A party
// that gave collateral bought the other asset; otherwise it sold.
func (e orderFilledEvent) toFill(address string, asMaker bool) domain.Fill {
	gaveAsset, gaveAmt := e.TakerAssetID, e.TakerAmountFilled
	gotAsset, gotAmt := e.MakerAssetID, e.MakerAmountFilled
	if asMaker {
		gaveAsset, gaveAmt = e.MakerAssetID, e.MakerAmountFilled
		gotAsset, gotAmt = e.TakerAssetID, e.TakerAmountFilled
	}

	side, token := domain.SideSell, gaveAsset
	shares, collateral := parseAmount(gaveAmt), parseAmount(gotAmt)
	if gaveAsset == collateralAssetID {
		side, token = domain.SideBuy, gotAsset
		shares, collateral = parseAmount(gotAmt), parseAmount(gaveAmt)
	}

	var price decimal.Decimal
	if !shares.IsZero() {
		price = collateral.Div(shares)
	}

	ts, _ := strconv.ParseInt(e.Timestamp, 10, 64)
	id := e.ID
	if id == "" {
		id = e.TransactionHash + ":" + token
	}

	return domain.Fill{
		ID:            id,
		OutcomeID:     token,
		Side:          side,
		Price:         price.InexactFloat64(),
		Size:          shares.Div(amountScale).InexactFloat64(),
		TimestampMs:   ts * 1000,
		SourceAddress: address,
		TxHash:        e.TransactionHash,
	}
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// doQuery executes a GraphQL query against the Goldsky endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnauthorized, resp.StatusCode, body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrNotFound, resp.StatusCode, body)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
