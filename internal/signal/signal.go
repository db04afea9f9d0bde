// Package signal decides which position the bot should hold.
package signal

import (
	"context"

	"polyrotate/config"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Evaluator derives the desired position. A nil target means hold.
// Errors are per cycle; a *portfolio.Error of kind Fatal stops the bot.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context) (*portfolio.Target, error)
}

// PriceSource returns the latest spot price of the tracked asset.
type PriceSource interface {
	GetPrice(ctx context.Context) (decimal.Decimal, error)
}

// MarketStore is the part of the metadata store evaluators read.
type MarketStore interface {
	ActiveMarkets(ctx context.Context, f store.MarketFilter) ([]store.Market, error)
	Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error)
}

// Deps are the data sources an evaluator may need.
type Deps struct {
	Prices PriceSource
	Store  MarketStore
	Counts CountSource
}

// New builds the evaluator for cfg.Bot.Strategy.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Bot.Strategy {
	case config.StrategyBTC:
		if deps.Prices == nil {
			return nil, portfolio.Fatalf("btc strategy needs a price source")
		}
		return NewBTCEvaluator(deps.Prices, cfg.Signals.BTC, logger), nil
	case config.StrategyLeaderboard:
		if deps.Store == nil {
			return nil, portfolio.Fatalf("leaderboard strategy needs a market store")
		}
		return NewLeaderboardEvaluator(deps.Store, cfg.Signals.Leaderboard, logger), nil
	case config.StrategyTweets:
		if deps.Store == nil || deps.Counts == nil {
			return nil, portfolio.Fatalf("tweets strategy needs a market store and a count source")
		}
		return NewTweetsEvaluator(deps.Store, deps.Counts, cfg.Signals.Tweets, logger), nil
	default:
		return nil, portfolio.Fatalf("unknown strategy %q", cfg.Bot.Strategy)
	}
}
