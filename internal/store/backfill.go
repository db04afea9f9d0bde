package store

import (
	"context"
	"errors"
	"fmt"

	"polyrotate/clients/polymarketapi"
	"polyrotate/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GammaSource resolves token ids to markets through the Gamma API.
type GammaSource interface {
	GetMarketsByTokenIDs(ctx context.Context, tokenIDs []string) ([]polymarketapi.GammaMarket, error)
}

// BackfillLookup is a MetadataLookup that fills store misses from Gamma
// once before giving up. Markets traded before the last sync, or closed
// and dropped from the listing, are found this way.
type BackfillLookup struct {
	store  Store
	gamma  GammaSource
	rule   *TagRule
	logger *zap.Logger
}

func NewBackfillLookup(store Store, gamma GammaSource, rule *TagRule, logger *zap.Logger) *BackfillLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackfillLookup{
		store:  store,
		gamma:  gamma,
		rule:   rule,
		logger: logger.Named("backfill"),
	}
}

func (b *BackfillLookup) LookupAsset(ctx context.Context, assetID string) (*portfolio.AssetInfo, error) {
	info, err := b.store.LookupAsset(ctx, assetID)
	if err == nil || !errors.Is(err, portfolio.ErrAssetNotFound) || b.gamma == nil {
		return info, err
	}

	gms, gerr := b.gamma.GetMarketsByTokenIDs(ctx, []string{assetID})
	if gerr != nil {
		return nil, fmt.Errorf("backfill asset %s: %w", assetID, errors.Join(portfolio.ErrAssetNotFound, gerr))
	}
	if len(gms) == 0 {
		return nil, err
	}

	markets := make([]Market, 0, len(gms))
	for _, gm := range gms {
		if gm.Slug == "" {
			continue
		}
		markets = append(markets, FromGamma(gm, b.rule))
	}
	if err := b.store.UpsertMarkets(ctx, markets); err != nil {
		return nil, fmt.Errorf("backfill asset %s: %w", assetID, err)
	}

	b.logger.Info("backfilled market metadata",
		zap.String("asset_id", assetID),
		zap.Int("markets", len(markets)),
	)
	return b.store.LookupAsset(ctx, assetID)
}

// FromGamma converts a Gamma market and tags its tokens.
func FromGamma(gm polymarketapi.GammaMarket, rule *TagRule) Market {
	m := Market{
		ConditionID:     gm.ConditionID,
		QuestionID:      gm.QuestionID,
		Question:        gm.Question,
		Description:     gm.Description,
		MarketSlug:      gm.Slug,
		Active:          gm.Active,
		Closed:          gm.Closed,
		Archived:        gm.Archived,
		AcceptingOrders: gm.AcceptingOrders,
		NegRisk:         gm.NegRisk,
		EndDate:         parseTime(gm.EndDate),
	}
	for _, o := range gm.TokenOutcomes() {
		m.Tokens = append(m.Tokens, Token{
			TokenID: o.TokenID,
			Outcome: o.Label,
			Price:   decimal.NewFromFloat(o.Price),
		})
	}
	rule.Apply(&m)
	return m
}
