package dataapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// flexString unmarshals from a JSON string or number. Trade ids and token
// ids arrive as either depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat unmarshals from a JSON number or numeric string. Anything else
// decodes as 0 so one malformed field does not drop a whole page.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(v)
			return nil
		}
	}
	*f = 0
	return nil
}

// rawFill is the union of field names seen across data API versions.
type rawFill struct {
	ID           flexString      `json:"id"`
	TradeID      flexString      `json:"tradeId"`
	TxHash       flexString      `json:"transactionHash"`
	TxHashShort  flexString      `json:"txHash"`
	Asset        flexString      `json:"asset"`
	AssetID      flexString      `json:"assetId"`
	TokenID      flexString      `json:"tokenId"`
	OutcomeID    flexString      `json:"outcomeId"`
	Market       flexString      `json:"market"`
	MarketID     flexString      `json:"marketId"`
	ConditionID  flexString      `json:"conditionId"`
	OutcomeIndex *flexFloat      `json:"outcomeIndex"`
	Side         flexString      `json:"side"`
	Type         flexString      `json:"type"`
	Price        flexFloat       `json:"price"`
	Size         flexFloat       `json:"size"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

func firstNonEmpty(vals ...flexString) string {
	for _, v := range vals {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// toDomain normalizes one raw record. now is used when the timestamp
// cannot be parsed.
func (r rawFill) toDomain(address string, now time.Time) domain.Fill {
	ts, stamped := parseTimestampMs(r.Timestamp)
	if !stamped {
		ts = now.UnixMilli()
	}
	f := domain.Fill{
		MarketID:      firstNonEmpty(r.ConditionID, r.Market, r.MarketID),
		OutcomeID:     firstNonEmpty(r.Asset, r.AssetID, r.TokenID, r.OutcomeID),
		Side:          domain.ParseSide(strings.TrimSpace(string(r.Side))),
		Price:         float64(r.Price),
		Size:          float64(r.Size),
		TimestampMs:   ts,
		SourceAddress: address,
		TxHash:        firstNonEmpty(r.TxHash, r.TxHashShort),
	}
	if r.OutcomeIndex != nil {
		idx := int(*r.OutcomeIndex)
		f.OutcomeIndex = &idx
	}
	f.ID = fillID(r, f, stamped)
	return f
}

// fillID picks the explicit id when present and otherwise builds a composite
// key from payload fields only, so the same record keys the same way on
// every poll. The timestamp joins the key only when the venue sent one.
func fillID(r rawFill, f domain.Fill, stamped bool) string {
	if id := firstNonEmpty(r.ID, r.TradeID); id != "" {
		return id
	}
	ref := f.OutcomeID
	if ref == "" {
		ref = f.MarketID
	}
	if f.TxHash != "" {
		return f.TxHash + ":" + ref
	}
	id := fmt.Sprintf("%s:%s:%s:%g:%g", f.MarketID, ref, f.Side, f.Price, f.Size)
	if stamped {
		id += ":" + strconv.FormatInt(f.TimestampMs, 10)
	}
	return id
}

// parseTimestampMs converts a venue timestamp in seconds to milliseconds.
// Values already in milliseconds and RFC 3339 strings are accepted too.
// ok is false when the field is absent or unusable.
func parseTimestampMs(raw json.RawMessage) (ms int64, ok bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			n = v
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli(), true
		} else {
			return 0, false
		}
	}
	if n <= 0 {
		return 0, false
	}
	if n >= 1e12 {
		return int64(n), true
	}
	return int64(n * 1000), true
}
