package clients

import (
	"polyrotate/clients/binance"
	"polyrotate/clients/discord"
	"polyrotate/clients/notifier"
	"polyrotate/clients/polymarketapi"
	"polyrotate/clients/telegram"
	"polyrotate/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord    *discord.DiscordClient
	Telegram   *telegram.TelegramClient
	Notifier   notifier.Notifier // Combined notifier for all channels
	Polymarket *polymarketapi.PolymarketApiClient
	Binance    *binance.BinanceClient
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	c := &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Notifier:   multiNotifier,
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
	}

	// Only the price strategy needs the exchange feed
	if cfg.Bot.Strategy == config.StrategyBTC {
		c.Binance = binance.NewBinanceClient(logger, cfg)
	}

	return c
}
