package signal

import (
	"context"
	"errors"
	"testing"

	"polyrotate/config"
	"polyrotate/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func leaderboardStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	st.UpsertMarkets(ctx, []store.Market{
		{
			MarketSlug: "which-company-best-ai-model-end-of-june-google",
			Question:   "Will Google have the best AI model end of June?",
			Active:     true,
			Tokens: []store.Token{
				{TokenID: "g-yes", Outcome: "Yes", PositionTag: "Google"},
				{TokenID: "g-no", Outcome: "No"},
			},
		},
		{
			MarketSlug: "which-company-best-ai-model-end-of-may-google",
			Question:   "Will Google have the best AI model end of May?",
			Active:     true,
			Closed:     true,
			Tokens:     []store.Token{{TokenID: "g-may-yes", Outcome: "Yes", PositionTag: "Google"}},
		},
		{
			MarketSlug: "which-company-best-ai-model-end-of-june-openai",
			Question:   "Will OpenAI have the best AI model end of June?",
			Active:     true,
			Tokens: []store.Token{
				{TokenID: "o-yes", Outcome: "Yes", PositionTag: "OpenAI"},
				{TokenID: "o-no", Outcome: "No"},
			},
		},
	})
	return st
}

func TestLeaderboardEvaluator(t *testing.T) {
	st := leaderboardStore(t)
	st.UpsertLeaderboard(context.Background(), []store.LeaderboardEntry{
		{Model: "gemini", RankUB: 1, ArenaScore: decimal.NewFromInt(1450), Organization: "Google"},
		{Model: "gpt", RankUB: 2, ArenaScore: decimal.NewFromInt(1440), Organization: "OpenAI"},
	})

	e := NewLeaderboardEvaluator(st, config.LeaderboardSignalConfig{MarketSlugContains: "end-of-june"}, zap.NewNop())
	target, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target == nil || target.Tag != "Google" || target.AssetID != "g-yes" {
		t.Errorf("expected Google/g-yes, got %+v", target)
	}
}

func TestLeaderboardEvaluator_OrganizationCaseInsensitive(t *testing.T) {
	st := leaderboardStore(t)
	st.UpsertLeaderboard(context.Background(), []store.LeaderboardEntry{
		{Model: "gpt", RankUB: 1, ArenaScore: decimal.NewFromInt(1500), Organization: "openai"},
	})

	e := NewLeaderboardEvaluator(st, config.LeaderboardSignalConfig{}, zap.NewNop())
	target, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target == nil || target.Tag != "OpenAI" || target.AssetID != "o-yes" {
		t.Errorf("expected stored tag OpenAI/o-yes, got %+v", target)
	}
}

func TestLeaderboardEvaluator_Holds(t *testing.T) {
	tests := []struct {
		name    string
		entries []store.LeaderboardEntry
		slug    string
	}{
		{"empty leaderboard", nil, ""},
		{"no market for organization", []store.LeaderboardEntry{{Model: "claude", RankUB: 1, Organization: "Anthropic"}}, ""},
		{"slug filter excludes market", []store.LeaderboardEntry{{Model: "gemini", RankUB: 1, Organization: "Google"}}, "end-of-july"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := leaderboardStore(t)
			st.UpsertLeaderboard(context.Background(), tt.entries)

			e := NewLeaderboardEvaluator(st, config.LeaderboardSignalConfig{MarketSlugContains: tt.slug}, zap.NewNop())
			target, err := e.Evaluate(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if target != nil {
				t.Errorf("expected hold, got %+v", target)
			}
		})
	}
}

func TestLeaderboardEvaluator_StoreError(t *testing.T) {
	e := NewLeaderboardEvaluator(failingStore{}, config.LeaderboardSignalConfig{}, zap.NewNop())

	_, err := e.Evaluate(context.Background())
	if !errors.Is(err, errStoreDown) {
		t.Errorf("expected store error, got %v", err)
	}
}
