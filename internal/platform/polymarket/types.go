package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false"); the order
// endpoints are not consistent about which one they send.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiOrder is the wire form of a signed order inside a POST /order body.
type apiOrder struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"` // "BUY" or "SELL"
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type postOrderRequest struct {
	Order     apiOrder `json:"order"`
	Owner     string   `json:"owner"`
	OrderType string   `json:"orderType"`
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success     flexBool `json:"success"`
	ErrorMsg    string   `json:"errorMsg,omitempty"`
	OrderID     string   `json:"orderID,omitempty"`
	OrderIDAlt  string   `json:"orderId,omitempty"`
	ID          string   `json:"id,omitempty"`
	Status      string   `json:"status,omitempty"`
	ShouldRetry flexBool `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts the wire result. A response that carries an
// order id but no explicit success flag counts as accepted.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	id := r.OrderID
	if id == "" {
		id = r.OrderIDAlt
	}
	if id == "" {
		id = r.ID
	}
	return domain.OrderResult{
		Success:     bool(r.Success) || (id != "" && r.ErrorMsg == ""),
		OrderID:     id,
		Status:      r.Status,
		Message:     r.ErrorMsg,
		ShouldRetry: bool(r.ShouldRetry),
	}
}

type apiCredsResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
