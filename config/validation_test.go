package config

import (
	"errors"
	"testing"
	"time"
)

func validBTCConfig() *Config {
	cfg := Defaults()
	cfg.Bot.Strategy = StrategyBTC
	cfg.Exchange.PrivateKey = "0x01"
	cfg.Signals.BTC.TargetPrice = 100000
	cfg.Signals.BTC.UpTokenID = "up"
	cfg.Signals.BTC.DownTokenID = "down"
	return cfg
}

func hasField(result ValidationResult, field string) bool {
	for _, e := range result.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	result := validBTCConfig().Validate()
	if !result.Valid {
		t.Fatalf("expected valid config, got %+v", result.Errors)
	}
	if result.Err() != nil {
		t.Error("Err() should be nil for a valid result")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing private key", func(c *Config) { c.Exchange.PrivateKey = "" }, "exchange.private_key"},
		{"unknown strategy", func(c *Config) { c.Bot.Strategy = "momentum" }, "bot.strategy"},
		{"poll interval too short", func(c *Config) { c.Bot.PollInterval = 100 * time.Millisecond }, "bot.poll_interval"},
		{"bad stop at", func(c *Config) { c.Bot.StopAt = "25:00" }, "bot.stop_at"},
		{"missing target price", func(c *Config) { c.Signals.BTC.TargetPrice = 0 }, "signals.btc.target_price"},
		{"missing token ids", func(c *Config) { c.Signals.BTC.DownTokenID = "" }, "signals.btc.token_ids"},
		{"zero minimum balance", func(c *Config) { c.Trading.MinimumBalance = 0 }, "trading.minimum_balance"},
		{"percent above 100", func(c *Config) { c.Trading.TradeSizePercent = 150 }, "trading.trade_size_percent"},
		{"no buy attempts", func(c *Config) { c.Trading.BuyMaxAttempts = 0 }, "trading.buy_max_attempts"},
		{"partial api creds", func(c *Config) { c.Exchange.APIKey = "key" }, "exchange.api_creds"},
		{"tag pattern without group", func(c *Config) { c.Store.TagPattern = "best AI model" }, "store.tag_pattern"},
		{"invalid tag pattern", func(c *Config) { c.Store.TagPattern = "(" }, "store.tag_pattern"},
		{"redeem without rpc", func(c *Config) { c.Bot.RedeemEnabled = true }, "chain.rpc_url"},
		{"leaderboard without database", func(c *Config) { c.Bot.Strategy = StrategyLeaderboard }, "store.database_url"},
		{"tweets without count url", func(c *Config) { c.Bot.Strategy = StrategyTweets }, "signals.tweets.count_url"},
		{"bad port", func(c *Config) { c.HealthServer.Port = 70000 }, "health_server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBTCConfig()
			tt.mutate(cfg)
			result := cfg.Validate()
			if result.Valid {
				t.Fatal("expected invalid config")
			}
			if !hasField(result, tt.field) {
				t.Errorf("expected error on %s, got %+v", tt.field, result.Errors)
			}
			var verr *ConfigValidationError
			if !errors.As(result.Err(), &verr) {
				t.Errorf("Err() should be a *ConfigValidationError")
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"17:10", 17*time.Hour + 10*time.Minute, false},
		{"00:00", 0, false},
		{" 9:05 ", 9*time.Hour + 5*time.Minute, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"1710", 0, true},
		{"ab:cd", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type recordingObserver struct {
	updates []*Config
}

func (o *recordingObserver) OnConfigUpdate(cfg *Config) {
	o.updates = append(o.updates, cfg)
}

func TestLiveConfig_UpdateNotifiesObservers(t *testing.T) {
	live := NewLiveConfig(validBTCConfig())
	obs := &recordingObserver{}
	live.AddObserver(obs)

	err := live.UpdatePartial(func(c *Config) {
		c.Bot.PollInterval = 5 * time.Second
	})
	if err != nil {
		t.Fatalf("UpdatePartial: %v", err)
	}
	if live.Get().Bot.PollInterval != 5*time.Second {
		t.Errorf("update not applied")
	}
	if len(obs.updates) != 1 || obs.updates[0].Bot.PollInterval != 5*time.Second {
		t.Errorf("observer not notified: %+v", obs.updates)
	}

	err = live.UpdatePartial(func(c *Config) {
		c.Trading.BuyMaxAttempts = 0
	})
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if live.Get().Trading.BuyMaxAttempts != 30 {
		t.Error("invalid update must not be applied")
	}
	if len(obs.updates) != 1 {
		t.Error("observers must not be notified of rejected updates")
	}

	live.RemoveObserver(obs)
	_ = live.UpdatePartial(func(c *Config) { c.Bot.PollInterval = 7 * time.Second })
	if len(obs.updates) != 1 {
		t.Error("removed observer was notified")
	}
}

func TestLiveConfig_ReloadKeepsIdentity(t *testing.T) {
	live := NewLiveConfig(validBTCConfig())

	fresh := validBTCConfig()
	fresh.Exchange.PrivateKey = "0x02"
	fresh.Trading.TradeSizePercent = 25
	fresh.Signals.BTC.TargetPrice = 90000

	if err := live.Reload(fresh); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got := live.Get()
	if got.Exchange.PrivateKey != "0x01" {
		t.Error("reload must not swap the signing key")
	}
	if got.Trading.TradeSizePercent != 25 || got.Signals.BTC.TargetPrice != 90000 {
		t.Errorf("tunables not reloaded: %+v %+v", got.Trading, got.Signals.BTC)
	}
}
