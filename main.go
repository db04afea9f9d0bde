package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	clts "polyrotate/clients"
	"polyrotate/clients/clob"
	"polyrotate/config"
	"polyrotate/internal/app"
	"polyrotate/internal/redeem"
	sig "polyrotate/internal/signal"
	"polyrotate/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	// startupTimeout bounds connecting to the database, chain and CLOB auth
	startupTimeout = 30 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to read .env", zap.Error(err))
	}

	// Load config from environment variables, then the optional CONFIG_FILE
	envConfig, err := config.LoadAll()
	if err != nil {
		logger.Fatal("failed to load config file", zap.Error(err))
	}
	if err := envConfig.Validate().Err(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting bot",
		zap.Bool("isProd", envConfig.IsProd),
		zap.String("bot", envConfig.Bot.Name),
		zap.String("strategy", envConfig.Bot.Strategy),
	)

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer clients.Notifier.Close()

	startCtx, startCancel := context.WithTimeout(context.Background(), startupTimeout)
	defer startCancel()

	key, err := clob.ParsePrivateKey(envConfig.Exchange.PrivateKey)
	if err != nil {
		logger.Fatal("invalid private key", zap.Error(err))
	}
	clobClient, err := newClobClient(startCtx, logger, envConfig, key)
	if err != nil {
		logger.Fatal("failed to create clob client", zap.Error(err))
	}

	st, err := openStore(startCtx, logger, envConfig)
	if err != nil {
		logger.Fatal("failed to open market store", zap.Error(err))
	}
	defer st.Close()

	rule, err := store.NewTagRule(envConfig.Store.TagPattern)
	if err != nil {
		logger.Fatal("invalid tag pattern", zap.Error(err))
	}
	syncer := store.NewSyncer(clobClient, st, rule, logger)
	lookup := store.NewBackfillLookup(st, clients.Polymarket, rule, logger)

	newEvaluator := func(cfg *config.Config) (sig.Evaluator, error) {
		deps := sig.Deps{Store: st}
		if clients.Binance != nil {
			deps.Prices = clients.Binance
		}
		if url := cfg.Signals.Tweets.CountURL; url != "" {
			deps.Counts = sig.NewHTTPCountSource(url)
		}
		return sig.New(cfg, deps, logger)
	}

	opts := app.Options{
		Clients:      clients,
		LiveConfig:   liveConfig,
		Ledger:       app.NewClobLedger(clobClient),
		Lookup:       lookup,
		NewEvaluator: newEvaluator,
		Syncer:       syncer,
	}

	if envConfig.Bot.RedeemEnabled {
		redeemer, err := redeem.Dial(startCtx, envConfig, key, logger)
		switch {
		case errors.Is(err, redeem.ErrUnsupportedWallet):
			logger.Warn("redemption disabled: proxy wallets are not supported", zap.Error(err))
		case err != nil:
			logger.Fatal("failed to set up redemption", zap.Error(err))
		default:
			defer redeemer.Close()
			opts.Redeemer = redeemer
			opts.Resolutions = clients.Polymarket
		}
	}
	startCancel()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go watchReload(ctx, logger, liveConfig)

	runner := app.NewRunner(opts)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func newClobClient(ctx context.Context, logger *zap.Logger, cfg *config.Config, key *ecdsa.PrivateKey) (*clob.Client, error) {
	ex := cfg.Exchange
	opts := clob.Options{
		Host:          ex.CLOBHost,
		ChainID:       ex.ChainID,
		PrivateKey:    key,
		SignatureType: ex.SignatureType,
		UseServerTime: ex.UseServerTime,
	}
	if f := strings.TrimSpace(ex.Funder); f != "" {
		opts.Funder = common.HexToAddress(f)
	}
	client, err := clob.NewClient(opts)
	if err != nil {
		return nil, err
	}

	if ex.HasAPICreds() {
		client.SetApiCreds(clob.ApiKeyCreds{Key: ex.APIKey, Secret: ex.APISecret, Passphrase: ex.APIPassphrase})
	} else {
		logger.Info("api credentials not configured, deriving from signer",
			zap.String("signer", client.SignerAddress().Hex()),
		)
		creds, err := client.CreateOrDeriveApiKey(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		client.SetApiCreds(creds)
	}

	logger.Info("clob client ready",
		zap.String("host", ex.CLOBHost),
		zap.String("signer", client.SignerAddress().Hex()),
		zap.String("funder", client.FunderAddress().Hex()),
	)
	return client, nil
}

// openStore picks Postgres when DATABASE_URL is set, fronted by Redis when
// REDIS_URL is also set. Without a database markets are kept in memory.
func openStore(ctx context.Context, logger *zap.Logger, cfg *config.Config) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory market store")
		return store.NewMemoryStore(), nil
	}

	pg, err := store.OpenPostgres(ctx, cfg.Store.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Store.RedisURL == "" {
		return pg, nil
	}

	rdb, err := store.OpenRedis(cfg.Store.RedisURL)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}
	logger.Info("asset lookups cached in redis", zap.Duration("ttl", cfg.Store.CacheTTL))
	return store.NewCachedStore(pg, rdb, cfg.Store.CacheTTL, logger), nil
}

// watchReload re-reads .env, the environment and CONFIG_FILE on SIGHUP and applies the
// runtime-tunable settings.
func watchReload(ctx context.Context, logger *zap.Logger, liveConfig *config.LiveConfig) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to re-read .env", zap.Error(err))
		}
		fresh, err := config.LoadAll()
		if err != nil {
			logger.Warn("failed to re-read config file", zap.Error(err))
			continue
		}
		if err := liveConfig.Reload(fresh); err != nil {
			logger.Warn("config reload rejected", zap.Error(err))
			continue
		}
		logger.Info("config reloaded from environment")
	}
}
