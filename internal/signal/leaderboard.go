package signal

import (
	"context"
	"fmt"

	"polyrotate/config"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/store"

	"go.uber.org/zap"
)

// LeaderboardEvaluator wants the Yes token of the market naming the
// organisation at the top of the LLM leaderboard.
type LeaderboardEvaluator struct {
	store        MarketStore
	slugContains string
	outcome      string
	logger       *zap.Logger
}

func NewLeaderboardEvaluator(st MarketStore, cfg config.LeaderboardSignalConfig, logger *zap.Logger) *LeaderboardEvaluator {
	outcome := cfg.Outcome
	if outcome == "" {
		outcome = "Yes"
	}
	return &LeaderboardEvaluator{
		store:        st,
		slugContains: cfg.MarketSlugContains,
		outcome:      outcome,
		logger:       logger.Named("leaderboard_signal"),
	}
}

func (e *LeaderboardEvaluator) Name() string { return config.StrategyLeaderboard }

func (e *LeaderboardEvaluator) Evaluate(ctx context.Context) (*portfolio.Target, error) {
	top, err := e.store.Leaderboard(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if len(top) == 0 || top[0].Organization == "" {
		e.logger.Warn("leaderboard is empty, holding")
		return nil, nil
	}
	org := top[0].Organization

	markets, err := e.store.ActiveMarkets(ctx, store.MarketFilter{
		SlugContains: e.slugContains,
		TokenTag:     portfolio.PositionTag(org),
	})
	if err != nil {
		return nil, fmt.Errorf("query markets for %s: %w", org, err)
	}

	for _, m := range markets {
		for _, t := range m.Tokens {
			if t.TokenID == "" || !equalFold(string(t.PositionTag), org) || !equalFold(t.Outcome, e.outcome) {
				continue
			}
			e.logger.Debug("leaderboard target",
				zap.String("organization", org),
				zap.String("model", top[0].Model),
				zap.String("market_slug", m.MarketSlug),
				zap.String("asset_id", t.TokenID),
			)
			return &portfolio.Target{Tag: t.PositionTag, AssetID: t.TokenID}, nil
		}
	}

	e.logger.Warn("no active market for top organization, holding",
		zap.String("organization", org),
		zap.String("slug_filter", e.slugContains),
	)
	return nil, nil
}
