package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Strategy names accepted by BOT_STRATEGY.
const (
	StrategyBTC         = "btc"
	StrategyLeaderboard = "leaderboard"
	StrategyTweets      = "tweets"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	Bot      BotConfig      `json:"bot"`
	Trading  TradingConfig  `json:"trading"`
	Retry    RetryConfig    `json:"retry"`
	Exchange ExchangeConfig `json:"exchange"`
	Signals  SignalsConfig  `json:"signals"`
	Store    StoreConfig    `json:"store"`
	Chain    ChainConfig    `json:"chain"`

	// Notifications
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`

	// Polymarket API
	Polymarket PolymarketConfig `json:"polymarket"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// BotConfig controls the poll loop.
type BotConfig struct {
	Name          string        `json:"name"`
	Strategy      string        `json:"strategy"`
	PollInterval  time.Duration `json:"poll_interval"`
	StopAt        string        `json:"stop_at"` // HH:MM local time, empty = run until signalled
	RedeemEnabled bool          `json:"redeem_enabled"`
}

// TradingConfig sizes and paces rotations.
type TradingConfig struct {
	MinimumBalance      uint64        `json:"minimum_balance"` // base units (10^-6), balances at or below are dust
	MinTradeUSD         float64       `json:"min_trade_usd"`
	FixedTradeUSD       float64       `json:"fixed_trade_usd"`    // used when TradeSizePercent is 0
	TradeSizePercent    float64       `json:"trade_size_percent"` // of collateral, 0 = unset
	SettlementDelay     time.Duration `json:"settlement_delay"`
	BuyMaxAttempts      int           `json:"buy_max_attempts"`
	BuyRetryDelay       time.Duration `json:"buy_retry_delay"`
	ResolverConcurrency int           `json:"resolver_concurrency"`
}

// RetryConfig bounds retries of exchange calls.
type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts"`
	BaseDelay      time.Duration `json:"base_delay"`
	RateLimitDelay time.Duration `json:"rate_limit_delay"`
	MaxJitter      time.Duration `json:"max_jitter"`
	CallTimeout    time.Duration `json:"call_timeout"`
}

// ExchangeConfig holds CLOB connection and signing settings.
type ExchangeConfig struct {
	CLOBHost      string `json:"clob_host"`
	ChainID       int64  `json:"chain_id"`
	PrivateKey    string `json:"-"` // Excluded - env var only
	Funder        string `json:"funder"`
	SignatureType int    `json:"signature_type"`
	UseServerTime bool   `json:"use_server_time"`

	APIKey        string `json:"-"`
	APISecret     string `json:"-"`
	APIPassphrase string `json:"-"`
}

// HasAPICreds reports whether L2 credentials were supplied.
func (e ExchangeConfig) HasAPICreds() bool {
	return e.APIKey != "" && e.APISecret != "" && e.APIPassphrase != ""
}

type SignalsConfig struct {
	BTC         BTCSignalConfig         `json:"btc"`
	Leaderboard LeaderboardSignalConfig `json:"leaderboard"`
	Tweets      TweetsSignalConfig      `json:"tweets"`
}

// BTCSignalConfig drives the UP/DOWN price threshold strategy.
type BTCSignalConfig struct {
	TargetPrice float64 `json:"target_price"`
	Buffer      float64 `json:"buffer"`
	BinanceURL  string  `json:"binance_url"`
	Symbol      string  `json:"symbol"`
	UpTokenID   string  `json:"up_token_id"`
	DownTokenID string  `json:"down_token_id"`
}

// LeaderboardSignalConfig drives the top-organisation strategy.
type LeaderboardSignalConfig struct {
	MarketSlugContains string `json:"market_slug_contains"`
	Outcome            string `json:"outcome"`
}

// TweetsSignalConfig drives the tweet-count bracket strategy.
type TweetsSignalConfig struct {
	QuestionLike string `json:"question_like"` // SQL LIKE pattern over market questions
	CountURL     string `json:"count_url"`
	Outcome      string `json:"outcome"`
}

// StoreConfig holds market metadata storage settings.
type StoreConfig struct {
	DatabaseURL  string        `json:"-"`
	RedisURL     string        `json:"-"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	SyncOnStart  bool          `json:"sync_on_start"`
	SyncInterval time.Duration `json:"sync_interval"` // 0 disables periodic sync
	TagPattern   string        `json:"tag_pattern"`   // regexp with one capture group over market questions
}

// ChainConfig holds on-chain redemption settings.
type ChainConfig struct {
	RPCURL         string `json:"-"`
	NegRiskAdapter string `json:"neg_risk_adapter"`
	GasLimit       uint64 `json:"gas_limit"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Clone creates a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config to JSON. Secrets are omitted.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the JSON document at path onto base. Fields the file
// leaves out keep their base values. Secrets are never read from the file.
func LoadFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ConfigFromJSON(data, base)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadAll loads the environment and then applies CONFIG_FILE when it is set.
func LoadAll() (*Config, error) {
	cfg := Load()
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return cfg, nil
	}
	return LoadFile(path, cfg)
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Bot: BotConfig{
			Name:         "polyrotate",
			Strategy:     StrategyLeaderboard,
			PollInterval: 30 * time.Second,
		},
		Trading: TradingConfig{
			MinimumBalance:      1_000_000,
			MinTradeUSD:         1,
			SettlementDelay:     3 * time.Second,
			BuyMaxAttempts:      30,
			BuyRetryDelay:       time.Second,
			ResolverConcurrency: 4,
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			BaseDelay:      time.Second,
			RateLimitDelay: 15 * time.Second,
			MaxJitter:      time.Second,
			CallTimeout:    20 * time.Second,
		},
		Exchange: ExchangeConfig{
			CLOBHost: "https://clob.polymarket.com",
			ChainID:  137,
		},
		Signals: SignalsConfig{
			BTC: BTCSignalConfig{
				BinanceURL: "https://api.binance.com",
				Symbol:     "BTCUSDT",
			},
			Leaderboard: LeaderboardSignalConfig{Outcome: "Yes"},
			Tweets: TweetsSignalConfig{
				QuestionLike: "Will Elon tweet % times %",
				Outcome:      "Yes",
			},
		},
		Store: StoreConfig{
			CacheTTL:     10 * time.Minute,
			SyncOnStart:  true,
			SyncInterval: 6 * time.Hour,
			TagPattern:   `(?i)^will (.+?) have the (?:best|top) ai model`,
		},
		Chain: ChainConfig{
			NegRiskAdapter: "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
			GasLimit:       300_000,
		},
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	d := Defaults()
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Bot: BotConfig{
			Name:          envString("BOT_NAME", d.Bot.Name),
			Strategy:      strings.ToLower(envString("BOT_STRATEGY", d.Bot.Strategy)),
			PollInterval:  envPollInterval(d.Bot.PollInterval),
			StopAt:        envString("STOP_AT", ""),
			RedeemEnabled: envBoolDefault("REDEEM_ENABLED", false),
		},

		Trading: TradingConfig{
			MinimumBalance:      envUint64("MINIMUM_BALANCE", d.Trading.MinimumBalance),
			MinTradeUSD:         envFloat("MIN_TRADE_AMOUNT_USD", d.Trading.MinTradeUSD),
			FixedTradeUSD:       envFloat("FIXED_TRADE_USD_AMOUNT", 0),
			TradeSizePercent:    envFloat("TRADE_SIZE_PERCENT", 0),
			SettlementDelay:     envDuration("SETTLEMENT_DELAY", d.Trading.SettlementDelay),
			BuyMaxAttempts:      envInt("BUY_MAX_ATTEMPTS", d.Trading.BuyMaxAttempts),
			BuyRetryDelay:       envDuration("BUY_RETRY_DELAY", d.Trading.BuyRetryDelay),
			ResolverConcurrency: envInt("RESOLVER_CONCURRENCY", d.Trading.ResolverConcurrency),
		},

		Retry: RetryConfig{
			MaxAttempts:    envInt("RETRY_MAX_ATTEMPTS", d.Retry.MaxAttempts),
			BaseDelay:      envDuration("RETRY_BASE_DELAY", d.Retry.BaseDelay),
			RateLimitDelay: envDuration("RETRY_RATE_LIMIT_DELAY", d.Retry.RateLimitDelay),
			MaxJitter:      envDuration("RETRY_MAX_JITTER", d.Retry.MaxJitter),
			CallTimeout:    envDuration("LEDGER_CALL_TIMEOUT", d.Retry.CallTimeout),
		},

		Exchange: ExchangeConfig{
			CLOBHost:      envString("CLOB_API_URL", d.Exchange.CLOBHost),
			ChainID:       envInt64("CHAIN_ID", d.Exchange.ChainID),
			PrivateKey:    envString("PK", ""),
			Funder:        envString("FUNDER_ADDRESS", ""),
			SignatureType: envInt("SIGNATURE_TYPE", 0),
			UseServerTime: envBoolDefault("CLOB_USE_SERVER_TIME", false),
			APIKey:        envString("CLOB_API_KEY", ""),
			APISecret:     envString("CLOB_SECRET", ""),
			APIPassphrase: envString("CLOB_PASS_PHRASE", ""),
		},

		Signals: SignalsConfig{
			BTC: BTCSignalConfig{
				TargetPrice: envFloat("TARGET_PRICE", 0),
				Buffer:      envFloat("PRICE_BUFFER", 0),
				BinanceURL:  envString("BINANCE_API_URL", d.Signals.BTC.BinanceURL),
				Symbol:      envString("BINANCE_SYMBOL", d.Signals.BTC.Symbol),
				UpTokenID:   envString("UP_TOKEN_ID", ""),
				DownTokenID: envString("DOWN_TOKEN_ID", ""),
			},
			Leaderboard: LeaderboardSignalConfig{
				MarketSlugContains: envString("LEADERBOARD_MARKET_SLUG", ""),
				Outcome:            envString("LEADERBOARD_OUTCOME", d.Signals.Leaderboard.Outcome),
			},
			Tweets: TweetsSignalConfig{
				QuestionLike: envString("TWEETS_QUESTION_PATTERN", d.Signals.Tweets.QuestionLike),
				CountURL:     envString("TWEET_COUNT_URL", ""),
				Outcome:      envString("TWEETS_OUTCOME", d.Signals.Tweets.Outcome),
			},
		},

		Store: StoreConfig{
			DatabaseURL:  envString("DATABASE_URL", ""),
			RedisURL:     envString("REDIS_URL", ""),
			CacheTTL:     envDuration("STORE_CACHE_TTL", d.Store.CacheTTL),
			SyncOnStart:  envBoolDefault("STORE_SYNC_ON_START", d.Store.SyncOnStart),
			SyncInterval: envDuration("STORE_SYNC_INTERVAL", d.Store.SyncInterval),
			TagPattern:   envString("MARKET_TAG_PATTERN", d.Store.TagPattern),
		},

		Chain: ChainConfig{
			RPCURL:         envString("RPC_URL", ""),
			NegRiskAdapter: envString("NEG_RISK_ADAPTER", d.Chain.NegRiskAdapter),
			GasLimit:       envUint64("REDEEM_GAS_LIMIT", d.Chain.GasLimit),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Polymarket: PolymarketConfig{
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", d.HealthServer.Port),
		},
	}
}

// Helper functions for parsing environment variables

// envPollInterval reads POLL_INTERVAL as a duration, falling back to
// POLL_INTERVAL_SECONDS.
func envPollInterval(defaultVal time.Duration) time.Duration {
	if d := envDuration("POLL_INTERVAL", 0); d > 0 {
		return d
	}
	if secs := envInt("POLL_INTERVAL_SECONDS", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envUint64(key string, defaultVal uint64) uint64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
