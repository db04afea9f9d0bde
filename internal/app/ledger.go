package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"polyrotate/clients/clob"
	"polyrotate/internal/portfolio"

	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

// exchange is the slice of the CLOB client the ledger adapter uses.
type exchange interface {
	GetTrades(ctx context.Context, params clob.TradeParams) ([]clob.Trade, error)
	GetBalanceAllowance(ctx context.Context, params clob.BalanceAllowanceParams) (*clob.BalanceAllowance, error)
	CreateSignedMarketOrder(ctx context.Context, tokenID string, side clob.Side, amountUnits *big.Int, orderType clob.OrderType, saltGenerator func() int64) (*clob.SignedMarketOrder, error)
	PostSignedOrder(ctx context.Context, order *ordermodel.SignedOrder, orderType clob.OrderType) (*clob.PostOrderResponse, error)
	CancelAll(ctx context.Context) (*clob.CancelResponse, error)
}

var _ exchange = (*clob.Client)(nil)

// ClobLedger exposes the CLOB client as a portfolio.Ledger. Exchange JSON is
// turned into typed trades and balances here.
type ClobLedger struct {
	client exchange
}

func NewClobLedger(client exchange) *ClobLedger {
	return &ClobLedger{client: client}
}

func (l *ClobLedger) GetTrades(ctx context.Context) ([]portfolio.Trade, error) {
	raw, err := l.client.GetTrades(ctx, clob.TradeParams{})
	if err != nil {
		return nil, err
	}
	trades := make([]portfolio.Trade, 0, len(raw))
	for _, t := range raw {
		trade := portfolio.Trade{
			ID:         t.ID,
			AssetID:    t.AssetID,
			TraderSide: portfolio.TraderSide(strings.ToUpper(t.TraderSide)),
		}
		for _, m := range t.MakerOrders {
			trade.MakerAssetIDs = append(trade.MakerAssetIDs, m.AssetID)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (l *ClobLedger) GetBalance(ctx context.Context, q portfolio.BalanceQuery) (portfolio.Balance, error) {
	params := clob.BalanceAllowanceParams{AssetType: clob.AssetTypeCollateral}
	if q.AssetType == portfolio.AssetTypeConditional {
		params = clob.BalanceAllowanceParams{AssetType: clob.AssetTypeConditional, TokenID: q.TokenID}
	}
	resp, err := l.client.GetBalanceAllowance(ctx, params)
	if err != nil {
		return 0, err
	}
	bal, err := portfolio.ParseBalance(resp.BalanceString())
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", nz(q.TokenID, "collateral"), err)
	}
	return bal, nil
}

func (l *ClobLedger) CreateMarketOrder(ctx context.Context, args portfolio.MarketOrderArgs) (*portfolio.Order, error) {
	side := clob.SideBuy
	if args.Side == portfolio.SideSell {
		side = clob.SideSell
	}
	amount := new(big.Int).SetUint64(uint64(args.Amount))

	signed, err := l.client.CreateSignedMarketOrder(ctx, args.TokenID, side, amount, clob.OrderTypeFOK, nil)
	if errors.Is(err, clob.ErrInvalidOrder) {
		return nil, portfolio.NewError(portfolio.KindRejected, "create_order", err)
	}
	if err != nil {
		return nil, err
	}
	return &portfolio.Order{
		TokenID: args.TokenID,
		Side:    args.Side,
		Amount:  args.Amount,
		Price:   signed.Price,
		Payload: signed.SignedOrder,
	}, nil
}

func (l *ClobLedger) PostOrder(ctx context.Context, order *portfolio.Order, orderType portfolio.OrderType) (portfolio.OrderResult, error) {
	signed, ok := order.Payload.(*ordermodel.SignedOrder)
	if !ok || signed == nil {
		return portfolio.OrderResult{}, portfolio.NewError(portfolio.KindRejected, "post_order",
			fmt.Errorf("order for %s was not built by this ledger", shortID(order.TokenID)))
	}
	resp, err := l.client.PostSignedOrder(ctx, signed, clob.OrderType(orderType))
	if err != nil {
		return portfolio.OrderResult{}, err
	}
	return portfolio.OrderResult{
		OrderID:  resp.OrderID,
		Filled:   resp.Filled(),
		ErrorMsg: resp.ErrorMsg,
		Status:   resp.Status,
	}, nil
}

func (l *ClobLedger) CancelAll(ctx context.Context) error {
	_, err := l.client.CancelAll(ctx)
	return err
}
