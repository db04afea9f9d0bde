package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type statusError struct {
	code int
}

func (e statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusError) HTTPStatus() int { return e.code }

// fakeLedger simulates an exchange account. Filled sells credit collateral
// one-for-one; filled buys debit collateral and credit twice as many shares.
type fakeLedger struct {
	mu sync.Mutex

	trades       []Trade
	balances     map[string]Balance
	collateral   Balance
	sellProceeds bool

	balanceErrs    map[string][]error
	collateralErrs []error
	postErr        error
	unfilled       map[Side]bool

	events       []string
	orders       []MarketOrderArgs
	balanceCalls map[string]int
	collCalls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:     make(map[string]Balance),
		balanceErrs:  make(map[string][]error),
		balanceCalls: make(map[string]int),
		unfilled:     make(map[Side]bool),
		sellProceeds: true,
	}
}

func (f *fakeLedger) setBalance(assetID string, b Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[assetID] = b
}

func (f *fakeLedger) setBalanceError(assetID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceErrs[assetID] = errs
}

func (f *fakeLedger) record(event string) {
	f.events = append(f.events, event)
}

func (f *fakeLedger) GetTrades(ctx context.Context) ([]Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("trades")
	return append([]Trade(nil), f.trades...), nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, q BalanceQuery) (Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.AssetType == AssetTypeCollateral {
		f.collCalls++
		f.record("collateral")
		if len(f.collateralErrs) > 0 {
			err := f.collateralErrs[0]
			f.collateralErrs = f.collateralErrs[1:]
			if err != nil {
				return 0, err
			}
		}
		return f.collateral, nil
	}
	f.balanceCalls[q.TokenID]++
	f.record("balance:" + q.TokenID)
	if errs := f.balanceErrs[q.TokenID]; len(errs) > 0 {
		err := errs[0]
		f.balanceErrs[q.TokenID] = errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.balances[q.TokenID], nil
}

func (f *fakeLedger) CreateMarketOrder(ctx context.Context, args MarketOrderArgs) (*Order, error) {
	return &Order{TokenID: args.TokenID, Side: args.Side, Amount: args.Amount}, nil
}

func (f *fakeLedger) PostOrder(ctx context.Context, order *Order, orderType OrderType) (OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if orderType != OrderTypeFOK {
		return OrderResult{}, errors.New("unexpected order type")
	}
	f.orders = append(f.orders, MarketOrderArgs{TokenID: order.TokenID, Amount: order.Amount, Side: order.Side})
	f.record(fmt.Sprintf("%s:%s:%d", order.Side, order.TokenID, order.Amount))
	if f.postErr != nil {
		return OrderResult{}, f.postErr
	}
	if f.unfilled[order.Side] {
		return OrderResult{Filled: false, ErrorMsg: "no liquidity"}, nil
	}
	switch order.Side {
	case SideSell:
		f.balances[order.TokenID] -= order.Amount
		if f.sellProceeds {
			f.collateral += order.Amount
		}
	case SideBuy:
		f.collateral -= order.Amount
		f.balances[order.TokenID] += order.Amount * 2
	}
	return OrderResult{OrderID: fmt.Sprintf("order-%d", len(f.orders)), Filled: true}, nil
}

func (f *fakeLedger) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel_all")
	return nil
}

func (f *fakeLedger) ordersBySide(side Side) []MarketOrderArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MarketOrderArgs
	for _, o := range f.orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeLedger) eventIndex(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeLookup struct {
	assets map[string]*AssetInfo
	err    error
}

func (f *fakeLookup) LookupAsset(ctx context.Context, assetID string) (*AssetInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.assets[assetID]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return info, nil
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *recordingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

func units(whole float64) Balance {
	return Balance(whole * float64(OneUnit))
}
