package domain

import (
	"math/big"
	"time"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// MirrorOrderRequest is the order placed on behalf of the local account
// for one observed fill.
type MirrorOrderRequest struct {
	FillID       string  `json:"fillId"`
	MarketID     string  `json:"market"`
	OutcomeID    string  `json:"outcome"`
	OutcomeIndex *int    `json:"outcomeIndex,omitempty"`
	Side         Side    `json:"side"`
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	SlippageBps  int     `json:"slippageBps"`
}

// MirrorPath records which execution path produced a result.
type MirrorPath string

const (
	PathDryRun   MirrorPath = "dry_run"
	PathPrimary  MirrorPath = "primary"
	PathFallback MirrorPath = "fallback"
)

// MirrorStatus is the terminal state of one mirror attempt.
type MirrorStatus string

const (
	MirrorSimulated MirrorStatus = "simulated"
	MirrorConfirmed MirrorStatus = "confirmed"
	MirrorFailed    MirrorStatus = "failed"
)

// MirrorRecord is the persisted outcome of mirroring one fill.
type MirrorRecord struct {
	ID            string       `json:"id"`
	FillID        string       `json:"fillId"`
	SourceAddress string       `json:"sourceAddress"`
	MarketID      string       `json:"marketId"`
	OutcomeID     string       `json:"outcomeId"`
	Side          Side         `json:"side"`
	Price         float64      `json:"price"`
	Size          float64      `json:"size"`
	SlippageBps   int          `json:"slippageBps"`
	Path          MirrorPath   `json:"path"`
	Status        MirrorStatus `json:"status"`
	Token         string       `json:"token,omitempty"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// SignedOrder is a venue order with its EIP-712 signature, ready to post.
type SignedOrder struct {
	Salt          string
	TokenID       string
	Maker         string
	Signer        string
	Side          Side
	Type          OrderType
	MakerAmount   *big.Int // collateral for buys, shares for sells (1e6 units)
	TakerAmount   *big.Int // shares for buys, collateral for sells (1e6 units)
	FeeRateBps    int
	SignatureType int
	Signature     string
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      string
	Message     string
	ShouldRetry bool
}
