package portfolio

import (
	"context"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

// OrderTypeFOK is the only order type the rotation engine submits.
const OrderTypeFOK OrderType = "FOK"

type TraderSide string

const (
	TraderSideTaker TraderSide = "TAKER"
	TraderSideMaker TraderSide = "MAKER"
)

type AssetType string

const (
	AssetTypeConditional AssetType = "CONDITIONAL"
	AssetTypeCollateral  AssetType = "COLLATERAL"
)

// Trade is the part of a fill the engine needs: which assets were touched.
type Trade struct {
	ID            string
	AssetID       string
	TraderSide    TraderSide
	MakerAssetIDs []string
}

// BalanceQuery selects a conditional token balance or the collateral balance.
type BalanceQuery struct {
	AssetType AssetType
	TokenID   string
}

// MarketOrderArgs describes a market order. Amount is collateral for buys
// and shares for sells.
type MarketOrderArgs struct {
	TokenID string
	Amount  Balance
	Side    Side
}

// Order is a signed order awaiting submission. Payload is owned by the
// Ledger implementation.
type Order struct {
	TokenID string
	Side    Side
	Amount  Balance
	Price   string
	Payload any
}

// OrderResult reports whether a posted order filled.
type OrderResult struct {
	OrderID  string
	Filled   bool
	ErrorMsg string
	Status   string
}

// Ledger is the remote exchange as seen by the rotation engine.
type Ledger interface {
	GetTrades(ctx context.Context) ([]Trade, error)
	GetBalance(ctx context.Context, q BalanceQuery) (Balance, error)
	CreateMarketOrder(ctx context.Context, args MarketOrderArgs) (*Order, error)
	PostOrder(ctx context.Context, order *Order, orderType OrderType) (OrderResult, error)
	CancelAll(ctx context.Context) error
}

// CandidateAssets lists every asset the account has traded, deduplicated in
// first-seen order. Takers touched asset_id; makers touched the asset of
// their first maker order.
func CandidateAssets(trades []Trade) []string {
	seen := make(map[string]struct{}, len(trades))
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		id := t.AssetID
		if t.TraderSide == TraderSideMaker {
			id = ""
			if len(t.MakerAssetIDs) > 0 {
				id = t.MakerAssetIDs[0]
			}
		}
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
