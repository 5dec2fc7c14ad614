// Package sizing converts an observed fill into the size of the mirrored
// order.
package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ComputeMirrorSize applies the session's sizing rules to f:
//
//  1. fixed mode mirrors FixedSize regardless of the fill's size;
//  2. percent mode mirrors fill.Size * CopyFactor;
//  3. a sell with SellAllOnSell set is forced to SellAllSize, which stands
//     for closing the whole position.
//
// CopyFactor is expected to be clamped already (see CopySettings.Normalize).
func ComputeMirrorSize(f domain.Fill, s domain.CopySettings) float64 {
	if f.Side == domain.SideSell && s.SellAllOnSell {
		if s.SellAllSize > 0 {
			return s.SellAllSize
		}
		return domain.DefaultSellAllSize
	}

	if s.ExecutionMode == domain.ExecutionModeFixed {
		return s.FixedSize
	}

	size := decimal.NewFromFloat(f.Size).Mul(decimal.NewFromFloat(s.CopyFactor))
	return size.InexactFloat64()
}

// BuildRequest turns a fill into the mirrored order request.
func BuildRequest(f domain.Fill, s domain.CopySettings) domain.MirrorOrderRequest {
	return domain.MirrorOrderRequest{
		FillID:       f.ID,
		MarketID:     f.MarketID,
		OutcomeID:    f.OutcomeID,
		OutcomeIndex: f.OutcomeIndex,
		Side:         f.Side,
		Price:        f.Price,
		Size:         ComputeMirrorSize(f, s),
		SlippageBps:  s.MaxSlippageBps,
	}
}
