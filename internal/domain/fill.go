package domain

import "strings"

// Side indicates whether a fill or order bought or sold outcome tokens.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide maps a venue side string onto a Side. Only the exact values
// "SELL" and "sell" are sells; anything else, including an empty string,
// is treated as a buy.
func ParseSide(raw string) Side {
	if raw == "SELL" || raw == "sell" {
		return SideSell
	}
	return SideBuy
}

// Fill is a single executed trade by a watched address, normalized from
// whatever payload shape the upstream source returned.
type Fill struct {
	ID            string  `json:"id"`
	MarketID      string  `json:"marketId"`
	OutcomeID     string  `json:"outcomeId"`
	OutcomeIndex  *int    `json:"outcomeIndex,omitempty"`
	Side          Side    `json:"side"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	TimestampMs   int64   `json:"timestampMs"`
	SourceAddress string  `json:"sourceAddress"`
	TxHash        string  `json:"txHash,omitempty"`
}

// NormalizeAddress lowercases and trims a wallet address so that the same
// wallet maps to one sync state regardless of checksum casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SyncState is a point-in-time view of one address's progress.
type SyncState struct {
	Address         string `json:"address"`
	HighWaterMarkMs int64  `json:"highWaterMarkMs"`
	SeenFillIDs     int    `json:"seenFillIds"`
}
