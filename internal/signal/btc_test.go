package signal

import (
	"context"
	"errors"
	"testing"

	"polyrotate/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestBTCEvaluator(t *testing.T) {
	cfg := config.BTCSignalConfig{
		TargetPrice: 100000,
		Buffer:      500,
		UpTokenID:   "up-token",
		DownTokenID: "down-token",
	}

	tests := []struct {
		name      string
		price     string
		wantTag   string
		wantAsset string
	}{
		{"above band", "100500.01", "UP", "up-token"},
		{"below band", "99499.99", "DOWN", "down-token"},
		{"upper edge holds", "100500", "", ""},
		{"lower edge holds", "99500", "", ""},
		{"at target holds", "100000", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := &fakePrices{price: decimal.RequireFromString(tt.price)}
			e := NewBTCEvaluator(prices, cfg, zap.NewNop())

			target, err := e.Evaluate(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantTag == "" {
				if target != nil {
					t.Errorf("expected hold, got %+v", target)
				}
				return
			}
			if target == nil || string(target.Tag) != tt.wantTag || target.AssetID != tt.wantAsset {
				t.Errorf("expected %s/%s, got %+v", tt.wantTag, tt.wantAsset, target)
			}
		})
	}
}

func TestBTCEvaluator_PriceErrorHolds(t *testing.T) {
	e := NewBTCEvaluator(&fakePrices{err: errors.New("binance down")}, config.BTCSignalConfig{TargetPrice: 1}, zap.NewNop())

	target, err := e.Evaluate(context.Background())
	if err != nil {
		t.Errorf("expected price failure to be absorbed, got %v", err)
	}
	if target != nil {
		t.Errorf("expected hold, got %+v", target)
	}
}

func TestPositionTags(t *testing.T) {
	cfg := config.Defaults()
	cfg.Bot.Strategy = config.StrategyBTC
	cfg.Signals.BTC.UpTokenID = "up-token"
	cfg.Signals.BTC.DownTokenID = "down-token"

	tags := PositionTags(cfg)
	if len(tags) != 2 || tags["up-token"] != TagUp || tags["down-token"] != TagDown {
		t.Errorf("unexpected tags %v", tags)
	}

	cfg.Signals.BTC.DownTokenID = ""
	if tags := PositionTags(cfg); len(tags) != 1 || tags["up-token"] != TagUp {
		t.Errorf("expected only the up token, got %v", tags)
	}

	cfg.Bot.Strategy = config.StrategyLeaderboard
	if tags := PositionTags(cfg); tags != nil {
		t.Errorf("expected no tags outside btc, got %v", tags)
	}
}
