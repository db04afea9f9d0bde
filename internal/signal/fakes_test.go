package signal

import (
	"context"
	"errors"

	"polyrotate/internal/store"

	"github.com/shopspring/decimal"
)

type fakePrices struct {
	price decimal.Decimal
	err   error
}

func (f *fakePrices) GetPrice(context.Context) (decimal.Decimal, error) {
	return f.price, f.err
}

type fakeCounts struct {
	count int
	err   error
}

func (f *fakeCounts) Count(context.Context) (int, error) {
	return f.count, f.err
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) ActiveMarkets(context.Context, store.MarketFilter) ([]store.Market, error) {
	return nil, errStoreDown
}

func (failingStore) Leaderboard(context.Context, int) ([]store.LeaderboardEntry, error) {
	return nil, errStoreDown
}
