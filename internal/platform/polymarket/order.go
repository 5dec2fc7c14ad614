package polymarket

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

var (
	minPrice  = decimal.RequireFromString("0.01")
	maxPrice  = decimal.RequireFromString("0.99")
	unitScale = decimal.New(1, 6)
	bpsScale  = decimal.New(1, 4)
)

// LimitPrice widens price by slippageBps in the direction that makes the
// order more likely to fill: up for buys, down for sells. The result is
// kept on the 0.01 tick grid inside [0.01, 0.99].
func LimitPrice(side domain.Side, price float64, slippageBps int) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	adj := decimal.NewFromInt(int64(slippageBps)).Div(bpsScale)

	if side == domain.SideSell {
		p = p.Mul(decimal.NewFromInt(1).Sub(adj)).RoundFloor(2)
	} else {
		p = p.Mul(decimal.NewFromInt(1).Add(adj)).RoundCeil(2)
	}
	if p.LessThan(minPrice) {
		return minPrice
	}
	if p.GreaterThan(maxPrice) {
		return maxPrice
	}
	return p
}

// OrderAmounts returns maker and taker amounts in 1e6 units. Buys give
// collateral for shares; sells give shares for collateral. Share size is
// rounded down to 2 decimals and notional down to 4.
func OrderAmounts(side domain.Side, size float64, limit decimal.Decimal) (maker, taker *big.Int, err error) {
	shares := decimal.NewFromFloat(size).RoundFloor(2)
	if !shares.IsPositive() {
		return nil, nil, fmt.Errorf("%w: size %v rounds to zero", domain.ErrInvalidOrder, size)
	}
	notional := shares.Mul(limit).RoundFloor(4)

	sharesUnits := shares.Mul(unitScale).BigInt()
	notionalUnits := notional.Mul(unitScale).BigInt()
	if side == domain.SideSell {
		return sharesUnits, notionalUnits, nil
	}
	return notionalUnits, sharesUnits, nil
}

// OrderOptions are account-level settings applied to every order.
type OrderOptions struct {
	SignatureType int
	FeeRateBps    int
	OrderType     domain.OrderType
}

// BuildOrder turns a mirror request into a signed venue order.
func BuildOrder(signer *crypto.Signer, req domain.MirrorOrderRequest, opts OrderOptions) (domain.SignedOrder, error) {
	if req.OutcomeID == "" {
		return domain.SignedOrder{}, fmt.Errorf("%w: outcome token id required", domain.ErrInvalidOrder)
	}
	if _, ok := new(big.Int).SetString(req.OutcomeID, 10); !ok {
		return domain.SignedOrder{}, fmt.Errorf("%w: outcome %q is not a token id", domain.ErrInvalidOrder, req.OutcomeID)
	}

	limit := LimitPrice(req.Side, req.Price, req.SlippageBps)
	maker, taker, err := OrderAmounts(req.Side, req.Size, limit)
	if err != nil {
		return domain.SignedOrder{}, err
	}

	salt, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket/order: salt: %w", err)
	}

	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         signer.Funder().Hex(),
		Signer:        signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.OutcomeID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    fmt.Sprintf("%d", opts.FeeRateBps),
		Side:          crypto.SideIndex(req.Side),
		SignatureType: opts.SignatureType,
	}
	sig, err := signer.SignOrder(payload)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket/order: %w", err)
	}

	orderType := opts.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeGTC
	}
	return domain.SignedOrder{
		Salt:          payload.Salt,
		TokenID:       payload.TokenID,
		Maker:         payload.Maker,
		Signer:        payload.Signer,
		Side:          req.Side,
		Type:          orderType,
		MakerAmount:   maker,
		TakerAmount:   taker,
		FeeRateBps:    opts.FeeRateBps,
		SignatureType: opts.SignatureType,
		Signature:     sig,
	}, nil
}

func toAPIOrder(o domain.SignedOrder) apiOrder {
	side := "BUY"
	if o.Side == domain.SideSell {
		side = "SELL"
	}
	return apiOrder{
		Salt:          json.Number(o.Salt),
		Maker:         o.Maker,
		Signer:        o.Signer,
		Taker:         zeroAddress,
		TokenID:       o.TokenID,
		MakerAmount:   o.MakerAmount.String(),
		TakerAmount:   o.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    fmt.Sprintf("%d", o.FeeRateBps),
		Side:          side,
		SignatureType: o.SignatureType,
		Signature:     o.Signature,
	}
}
