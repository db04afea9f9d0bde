package clients

import (
	"polyrotate/config"
	"testing"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := &config.Config{
		Bot: config.BotConfig{Strategy: config.StrategyBTC},
		Discord: config.DiscordConfig{
			BotToken:      "",
			ProdChannelID: "prod",
			BetaChannelID: "beta",
		},
		Polymarket: config.PolymarketConfig{
			GammaAPIURL: "https://gamma.example.com",
		},
	}

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected Notifier to be set")
	}
	if clients.Polymarket == nil {
		t.Error("expected Polymarket client to be set")
	}
	if clients.Binance == nil {
		t.Error("expected Binance client to be set for the btc strategy")
	}
}

func TestNewClients_LeaderboardStrategy(t *testing.T) {
	cfg := &config.Config{
		Bot: config.BotConfig{Strategy: config.StrategyLeaderboard},
		Polymarket: config.PolymarketConfig{
			GammaAPIURL: "https://gamma.example.com",
		},
	}

	clients := NewClients(zap.NewNop(), cfg)

	if clients.Binance != nil {
		t.Error("expected Binance client to be nil outside the btc strategy")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	cfg := &config.Config{
		Polymarket: config.PolymarketConfig{
			GammaAPIURL: "https://gamma.example.com",
		},
	}

	clients := NewClients(nil, cfg)

	if clients.Logger != nil {
		t.Error("expected nil logger to remain nil")
	}
	// Other clients should still be initialized
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
}
