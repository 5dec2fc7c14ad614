package dataapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Extractor pulls the list of raw fill records out of a response body.
type Extractor func(body []byte) ([]rawFill, error)

// Candidate is one request shape the data API is known to answer.
type Candidate struct {
	Name         string
	Path         string
	AddressParam string
	// SinceParam is empty when the endpoint has no lower-bound filter; the
	// source then drops older fills itself.
	SinceParam string
	LimitParam string
	Extra      url.Values
	Extract    Extractor
	// ActivityOnly keeps only records whose type is TRADE.
	ActivityOnly bool
}

// query builds the request query for address, since (ms) and limit.
func (c Candidate) query(address string, sinceMs int64, limit int) url.Values {
	q := url.Values{}
	for k, vs := range c.Extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set(c.AddressParam, address)
	if c.SinceParam != "" && sinceMs > 0 {
		q.Set(c.SinceParam, strconv.FormatInt(sinceMs/1000, 10))
	}
	if c.LimitParam != "" && limit > 0 {
		q.Set(c.LimitParam, strconv.Itoa(limit))
	}
	return q
}

// Known adapter names.
const (
	VersionAuto     = "auto"
	VersionV2       = "v2"
	VersionV1       = "v1"
	VersionTrades   = "trades"
	VersionActivity = "activity"
	VersionFills    = "fills"

	// DefaultVersion is tried after an explicitly configured version.
	DefaultVersion = VersionTrades
)

var adapters = map[string]Candidate{
	VersionV2: {
		Name: VersionV2, Path: "/v2/fills",
		AddressParam: "address", SinceParam: "since", LimitParam: "limit",
		Extract: extractFillsOrTrades,
	},
	VersionV1: {
		Name: VersionV1, Path: "/v1/fills",
		AddressParam: "walletAddress", SinceParam: "since", LimitParam: "limit",
		Extract: extractFillsOrTrades,
	},
	VersionTrades: {
		Name: VersionTrades, Path: "/trades",
		AddressParam: "user", LimitParam: "limit",
		Extra:   url.Values{"takerOnly": {"false"}},
		Extract: extractFillsOrTrades,
	},
	VersionActivity: {
		Name: VersionActivity, Path: "/activity",
		AddressParam: "user", SinceParam: "start", LimitParam: "limit",
		Extra:        url.Values{"type": {"TRADE"}},
		Extract:      extractFillsOrTrades,
		ActivityOnly: true,
	},
	VersionFills: {
		Name: VersionFills, Path: "/fills",
		AddressParam: "address", SinceParam: "since", LimitParam: "limit",
		Extract: extractFillsOrTrades,
	},
}

// autoOrder is the probing order used when no version is configured.
var autoOrder = []string{VersionV2, VersionV1, VersionTrades, VersionActivity, VersionFills}

// Candidates returns the ordered candidate list for a configured version.
// "auto" (or empty) yields every known adapter; a named version yields
// that adapter followed by the default one.
func Candidates(version string) ([]Candidate, error) {
	version = strings.ToLower(strings.TrimSpace(version))
	if version == "" || version == VersionAuto {
		out := make([]Candidate, 0, len(autoOrder))
		for _, name := range autoOrder {
			out = append(out, adapters[name])
		}
		return out, nil
	}

	c, ok := adapters[version]
	if !ok {
		return nil, fmt.Errorf("dataapi: unknown api version %q", version)
	}
	out := []Candidate{c}
	if version != DefaultVersion {
		out = append(out, adapters[DefaultVersion])
	}
	return out, nil
}

// extractFillsOrTrades reads body.fills, then body.trades, then the body
// itself as a bare array.
func extractFillsOrTrades(body []byte) ([]rawFill, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []rawFill
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode fill list: %w", err)
		}
		return list, nil
	}

	var env struct {
		Fills  *[]rawFill `json:"fills"`
		Trades *[]rawFill `json:"trades"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode fill envelope: %w", err)
	}
	switch {
	case env.Fills != nil:
		return *env.Fills, nil
	case env.Trades != nil:
		return *env.Trades, nil
	default:
		return nil, fmt.Errorf("decode fill envelope: no fills or trades array")
	}
}
