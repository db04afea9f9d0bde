// Package store persists market metadata and the LLM leaderboard.
// PostgreSQL is the source of truth, Redis an optional read-through cache
// for asset lookups, and the in-memory store backs tests and dry runs.
package store

import (
	"context"
	"time"

	"polyrotate/internal/portfolio"

	"github.com/shopspring/decimal"
)

// BatchSize is the number of markets written per transaction.
const BatchSize = 100

// Token is one outcome token of a market.
type Token struct {
	TokenID     string                `json:"token_id"`
	Outcome     string                `json:"outcome"`
	Price       decimal.Decimal       `json:"price"`
	Winner      bool                  `json:"winner"`
	PositionTag portfolio.PositionTag `json:"position_tag"`
}

// Market is a prediction market with its outcome tokens.
type Market struct {
	ID              int64           `json:"id"`
	ConditionID     string          `json:"condition_id"`
	QuestionID      string          `json:"question_id"`
	Question        string          `json:"question"`
	Description     string          `json:"description"`
	MarketSlug      string          `json:"market_slug"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	Archived        bool            `json:"archived"`
	AcceptingOrders bool            `json:"accepting_orders"`
	NegRisk         bool            `json:"neg_risk"`
	MinimumTickSize decimal.Decimal `json:"minimum_tick_size"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	Tokens          []Token         `json:"tokens"`
	Tags            []string        `json:"tags"`
}

// TokenByOutcome returns the first token whose outcome matches,
// case-insensitively.
func (m *Market) TokenByOutcome(outcome string) (Token, bool) {
	for _, t := range m.Tokens {
		if equalFold(t.Outcome, outcome) {
			return t, true
		}
	}
	return Token{}, false
}

// LeaderboardEntry is one model row of the LLM arena leaderboard.
type LeaderboardEntry struct {
	Model         string          `json:"model"`
	RankUB        int             `json:"rank_ub"`
	RankStyleCtrl int             `json:"rank_style_ctrl"`
	ArenaScore    decimal.Decimal `json:"arena_score"`
	CI            string          `json:"ci"`
	Votes         int             `json:"votes"`
	Organization  string          `json:"organization"`
	License       string          `json:"license"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketFilter narrows ActiveMarkets. Zero fields match everything.
type MarketFilter struct {
	// QuestionLike is a case-insensitive SQL LIKE pattern (% and _).
	QuestionLike string
	SlugContains string
	// TokenTag keeps markets having a token with this tag (case-insensitive).
	TokenTag portfolio.PositionTag
}

// Store is the persistence interface used by the bot.
type Store interface {
	portfolio.MetadataLookup

	// UpsertMarkets writes markets keyed by slug, replacing their tokens
	// and tags, BatchSize markets per transaction.
	UpsertMarkets(ctx context.Context, markets []Market) error

	// ActiveMarkets returns active, unclosed markets with their tokens.
	ActiveMarkets(ctx context.Context, f MarketFilter) ([]Market, error)

	// Leaderboard returns the top entries ordered by rank_ub ascending,
	// then arena score descending.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// UpsertLeaderboard writes entries keyed by model.
	UpsertLeaderboard(ctx context.Context, entries []LeaderboardEntry) error

	Close()
}

func assetInfo(m *Market, t Token) *portfolio.AssetInfo {
	return &portfolio.AssetInfo{
		AssetID:     t.TokenID,
		MarketSlug:  m.MarketSlug,
		Question:    m.Question,
		Outcome:     t.Outcome,
		Tag:         t.PositionTag,
		ConditionID: m.ConditionID,
		Closed:      m.Closed,
		NegRisk:     m.NegRisk,
	}
}
