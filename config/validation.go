package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns the result as a *ConfigValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ConfigValidationError{Errors: r.Errors}
}

// Validate checks the config for invalid or missing values. Missing
// settings required by the selected strategy are reported here so the
// process can refuse to start.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateBot(&c.Bot)...)
	errors = append(errors, validateTrading(&c.Trading)...)
	errors = append(errors, validateRetry(&c.Retry)...)
	errors = append(errors, validateExchange(&c.Exchange)...)
	errors = append(errors, validateSignals(c)...)
	errors = append(errors, validateStore(&c.Store)...)

	if c.Bot.RedeemEnabled && c.Chain.RPCURL == "" {
		errors = append(errors, ValidationError{
			Field:   "chain.rpc_url",
			Message: "required when redemption is enabled",
		})
	}

	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateBot(b *BotConfig) []ValidationError {
	var errors []ValidationError

	switch b.Strategy {
	case StrategyBTC, StrategyLeaderboard, StrategyTweets:
	default:
		errors = append(errors, ValidationError{
			Field:   "bot.strategy",
			Message: fmt.Sprintf("must be one of %s, %s or %s, got %q", StrategyBTC, StrategyLeaderboard, StrategyTweets, b.Strategy),
		})
	}

	if b.PollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "bot.poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if b.StopAt != "" {
		if _, err := ParseClock(b.StopAt); err != nil {
			errors = append(errors, ValidationError{
				Field:   "bot.stop_at",
				Message: err.Error(),
			})
		}
	}

	return errors
}

func validateTrading(t *TradingConfig) []ValidationError {
	var errors []ValidationError

	// Zero would count any fraction of a share as a held position.
	if t.MinimumBalance == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.minimum_balance",
			Message: "must be positive",
		})
	}

	if t.MinTradeUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.min_trade_usd",
			Message: "must be non-negative",
		})
	}

	if t.FixedTradeUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.fixed_trade_usd",
			Message: "must be non-negative",
		})
	}

	if t.TradeSizePercent < 0 || t.TradeSizePercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "trading.trade_size_percent",
			Message: "must be between 0 and 100",
		})
	}

	if t.SettlementDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.settlement_delay",
			Message: "must be non-negative",
		})
	}

	if t.BuyMaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.buy_max_attempts",
			Message: "must be at least 1",
		})
	}

	if t.ResolverConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.resolver_concurrency",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateRetry(r *RetryConfig) []ValidationError {
	var errors []ValidationError

	if r.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Message: "must be at least 1",
		})
	}

	if r.BaseDelay < 0 || r.MaxJitter < 0 || r.RateLimitDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry",
			Message: "delays must be non-negative",
		})
	}

	if r.CallTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "retry.call_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateExchange(e *ExchangeConfig) []ValidationError {
	var errors []ValidationError

	if e.PrivateKey == "" {
		errors = append(errors, ValidationError{
			Field:   "exchange.private_key",
			Message: "PK is required",
		})
	}

	if e.CLOBHost == "" {
		errors = append(errors, ValidationError{
			Field:   "exchange.clob_host",
			Message: "is required",
		})
	}

	if e.ChainID <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.chain_id",
			Message: "must be positive",
		})
	}

	if e.SignatureType < 0 || e.SignatureType > 2 {
		errors = append(errors, ValidationError{
			Field:   "exchange.signature_type",
			Message: "must be 0 (EOA), 1 (proxy) or 2 (safe)",
		})
	}

	set := 0
	for _, v := range []string{e.APIKey, e.APISecret, e.APIPassphrase} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		errors = append(errors, ValidationError{
			Field:   "exchange.api_creds",
			Message: "CLOB_API_KEY, CLOB_SECRET and CLOB_PASS_PHRASE must be set together",
		})
	}

	return errors
}

func validateSignals(c *Config) []ValidationError {
	var errors []ValidationError

	switch c.Bot.Strategy {
	case StrategyBTC:
		btc := c.Signals.BTC
		if btc.TargetPrice <= 0 {
			errors = append(errors, ValidationError{
				Field:   "signals.btc.target_price",
				Message: "TARGET_PRICE is required for the btc strategy",
			})
		}
		if btc.Buffer < 0 {
			errors = append(errors, ValidationError{
				Field:   "signals.btc.buffer",
				Message: "must be non-negative",
			})
		}
		if btc.UpTokenID == "" || btc.DownTokenID == "" {
			errors = append(errors, ValidationError{
				Field:   "signals.btc.token_ids",
				Message: "UP_TOKEN_ID and DOWN_TOKEN_ID are required for the btc strategy",
			})
		}
	case StrategyLeaderboard:
		if c.Store.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.database_url",
				Message: "DATABASE_URL is required for the leaderboard strategy",
			})
		}
	case StrategyTweets:
		if c.Signals.Tweets.CountURL == "" {
			errors = append(errors, ValidationError{
				Field:   "signals.tweets.count_url",
				Message: "TWEET_COUNT_URL is required for the tweets strategy",
			})
		}
		if strings.TrimSpace(c.Signals.Tweets.QuestionLike) == "" {
			errors = append(errors, ValidationError{
				Field:   "signals.tweets.question_like",
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	if s.TagPattern != "" {
		re, err := regexp.Compile(s.TagPattern)
		switch {
		case err != nil:
			errors = append(errors, ValidationError{
				Field:   "store.tag_pattern",
				Message: fmt.Sprintf("invalid regexp: %v", err),
			})
		case re.NumSubexp() < 1:
			errors = append(errors, ValidationError{
				Field:   "store.tag_pattern",
				Message: "must contain a capture group",
			})
		}
	}

	if s.SyncInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.sync_interval",
			Message: "must be non-negative",
		})
	}

	if s.RedisURL != "" && s.CacheTTL < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "store.cache_ttl",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}

// ParseClock parses an HH:MM wall-clock time into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
