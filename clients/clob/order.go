package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

// ErrInvalidOrder marks an order that cannot be built from the given amount
// and book. Resubmitting the same request fails the same way.
var ErrInvalidOrder = errors.New("invalid order")

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// SignedMarketOrder is a signed order ready to post, plus the book price it
// was built against.
type SignedMarketOrder struct {
	SignedOrder *ordermodel.SignedOrder
	TokenID     string
	Side        Side
	Price       string
	TickSize    string
}

// PostOrderResponse mirrors the /order response.
type PostOrderResponse struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	Status             string   `json:"status"`
	TransactionsHashes []string `json:"transactionsHashes"`
	MakingAmount       string   `json:"makingAmount"`
	TakingAmount       string   `json:"takingAmount"`
}

// Filled reports whether the order actually executed. The API answers
// success=true for killed FOK orders, so errorMsg must be empty too.
func (r PostOrderResponse) Filled() bool {
	return r.Success && r.ErrorMsg == ""
}

// Market orders have stricter precision than the 1e6 on-chain units: makers
// (collateral on buys, shares on sells) allow 2 decimals, takers 4.
const (
	marketBuyMakerMaxDecimals  = 2
	marketBuyTakerMaxDecimals  = 4
	marketSellMakerMaxDecimals = 2
	marketSellTakerMaxDecimals = 4
)

func marketOrderMaxDecimals(side Side) (makerDecimals int, takerDecimals int, err error) {
	switch side {
	case SideBuy:
		return marketBuyMakerMaxDecimals, marketBuyTakerMaxDecimals, nil
	case SideSell:
		return marketSellMakerMaxDecimals, marketSellTakerMaxDecimals, nil
	default:
		return 0, 0, fmt.Errorf("invalid side %q", side)
	}
}

func computeMarketOrderAmountsFromPrice(side Side, makerAmountUnits *big.Int, priceTicks *big.Int, priceScale *big.Int) (*big.Int, *big.Int, error) {
	if makerAmountUnits == nil || makerAmountUnits.Sign() <= 0 {
		return nil, nil, fmt.Errorf("maker amount must be > 0")
	}
	if priceTicks == nil || priceTicks.Sign() <= 0 {
		return nil, nil, fmt.Errorf("priceTicks must be > 0")
	}
	if priceScale == nil || priceScale.Sign() <= 0 {
		return nil, nil, fmt.Errorf("priceScale must be > 0")
	}

	makerDecimals, takerDecimals, err := marketOrderMaxDecimals(side)
	if err != nil {
		return nil, nil, err
	}

	// The maker side is what the account gives up: collateral on buys,
	// shares on sells. Rounding it up could exceed what is held.
	makerRounded := roundDownUnits(makerAmountUnits, makerDecimals)
	if makerRounded == nil || makerRounded.Sign() <= 0 {
		return nil, nil, fmt.Errorf("maker amount rounds to 0")
	}

	var taker *big.Int
	if side == SideBuy {
		taker = new(big.Int).Mul(makerRounded, priceScale)
		taker.Div(taker, priceTicks)
	} else {
		taker = new(big.Int).Mul(makerRounded, priceTicks)
		taker.Div(taker, priceScale)
	}
	takerRounded := roundDownUnits(taker, takerDecimals)
	if takerRounded == nil || takerRounded.Sign() <= 0 {
		return nil, nil, fmt.Errorf("taker amount rounds to 0")
	}
	return makerRounded, takerRounded, nil
}

// CreateSignedMarketOrder prices amountUnits against the live book and signs
// the order. For buys amountUnits is collateral, for sells it is shares.
func (c *Client) CreateSignedMarketOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	amountUnits *big.Int,
	orderType OrderType,
	saltGenerator func() int64,
) (*SignedMarketOrder, error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidOrder)
	}

	price, tickSize, err := c.CalculateMarketPrice(ctx, tokenID, side, amountUnits, orderType)
	if err != nil {
		return nil, err
	}
	scale, priceDecimals, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	priceTicks, err := parseDecimalToUnits(price, priceDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: parse market price %q: %w", ErrInvalidOrder, price, err)
	}
	if priceTicks.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %q", ErrInvalidOrder, price)
	}

	makerAmountUnits, takerAmountUnits, err := computeMarketOrderAmountsFromPrice(side, amountUnits, priceTicks, scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	sideEnum := ordermodel.BUY
	if side == SideSell {
		sideEnum = ordermodel.SELL
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerAmountUnits.String(),
		TakerAmount:   takerAmountUnits.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	signed, err := signOrder(c.chainID, c.privateKey, od, contract, saltGenerator)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	return &SignedMarketOrder{
		SignedOrder: signed,
		TokenID:     tokenID,
		Side:        side,
		Price:       price,
		TickSize:    tickSize,
	}, nil
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

// PostSignedOrder submits a signed order. The response is returned even when
// the order was killed; callers check Filled.
func (c *Client) PostSignedOrder(ctx context.Context, order *ordermodel.SignedOrder, orderType OrderType) (*PostOrderResponse, error) {
	body, err := c.BuildPostOrderBody(order, orderType, false)
	if err != nil {
		return nil, err
	}
	var resp PostOrderResponse
	if err := c.authed(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BuildPostOrderBody(order *ordermodel.SignedOrder, orderType OrderType, deferExec bool) ([]byte, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		DeferExec: deferExec,
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideToString(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideToString(v *big.Int) Side {
	if v != nil && v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}

// FormatUnits renders fixed-point units with the given number of decimals.
func FormatUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	if decimals <= 0 {
		return units.String()
	}

	s := units.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	i := len(s) - decimals
	out := strings.TrimRight(s[:i]+"."+s[i:], "0")
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "0"
	}
	return out
}
