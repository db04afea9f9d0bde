package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyrotate/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RotationState is a step of the sell-then-buy state machine.
type RotationState string

const (
	StateIdle     RotationState = "IDLE"
	StateSelling  RotationState = "SELLING"
	StateSettling RotationState = "SETTLING"
	StateBuying   RotationState = "BUYING"
	StateDone     RotationState = "DONE"
	StateFailed   RotationState = "FAILED"
)

// RotationConfig sizes and paces a rotation.
type RotationConfig struct {
	MinimumBalance   Balance
	MinTradeUSD      decimal.Decimal
	FixedTradeUSD    decimal.Decimal
	TradeSizePercent decimal.Decimal
	SettlementDelay  time.Duration
	BuyMaxAttempts   int
	BuyRetryDelay    time.Duration
}

func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MinimumBalance:  DefaultMinimumBalance,
		MinTradeUSD:     decimal.NewFromInt(1),
		SettlementDelay: 3 * time.Second,
		BuyMaxAttempts:  30,
		BuyRetryDelay:   time.Second,
	}
}

// RotationResult describes how a rotation ended.
type RotationResult struct {
	ID        string
	From      PositionTag
	To        PositionTag
	State     RotationState
	Orders    int
	Sold      Balance
	Bought    Balance
	Kind      ErrorKind
	Err       error
	Skipped   string
	StartedAt time.Time
	Duration  time.Duration
}

// Noop reports whether nothing needed doing.
func (r RotationResult) Noop() bool {
	return r.State == StateIdle
}

// Rotator moves the single held position to the desired one.
type Rotator struct {
	ledger Ledger
	cache  *BalanceCache
	cfg    RotationConfig
	sleep  Sleeper
	now    func() time.Time
	logger *zap.Logger
}

func NewRotator(ledger Ledger, cache *BalanceCache, cfg RotationConfig, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BuyMaxAttempts <= 0 {
		cfg.BuyMaxAttempts = 1
	}
	if cfg.MinimumBalance == 0 {
		cfg.MinimumBalance = DefaultMinimumBalance
	}
	return &Rotator{
		ledger: ledger,
		cache:  cache,
		cfg:    cfg,
		sleep:  SleepContext,
		now:    time.Now,
		logger: logger.Named("rotator"),
	}
}

// SetSleeper replaces the delay function used between phases.
func (r *Rotator) SetSleeper(s Sleeper) {
	if s != nil {
		r.sleep = s
	}
}

// SetConfig updates sizing and pacing for subsequent rotations.
func (r *Rotator) SetConfig(cfg RotationConfig) {
	if cfg.BuyMaxAttempts <= 0 {
		cfg.BuyMaxAttempts = 1
	}
	r.cfg = cfg
}

// Rotate sells the current position, if any, and buys desired. A nil
// desired or one the current position already holds, by tag or by asset,
// is a no-op. Failures are reported in the result.
func (r *Rotator) Rotate(ctx context.Context, current Resolution, desired *Target) RotationResult {
	res := RotationResult{
		ID:        uuid.NewString(),
		From:      current.Tag,
		State:     StateIdle,
		StartedAt: r.now(),
	}
	if desired != nil {
		res.To = desired.Tag
	}
	log := r.logger.With(
		zap.String("rotation_id", res.ID),
		zap.String("current", string(current.Tag)),
		zap.String("desired", string(res.To)),
	)

	finish := func() RotationResult {
		res.Duration = r.now().Sub(res.StartedAt)
		label := string(res.State)
		if res.Skipped != "" {
			label = "skipped"
		} else if res.Noop() {
			label = "noop"
		}
		metrics.RotationsTotal.WithLabelValues(label).Inc()
		return res
	}
	fail := func(kind ErrorKind, err error) RotationResult {
		res.State = StateFailed
		res.Kind = kind
		res.Err = err
		log.Error("rotation failed",
			zap.String("kind", string(kind)),
			zap.Int("orders", res.Orders),
			zap.Error(err),
		)
		return finish()
	}

	if desired == nil {
		log.Debug("no desired position, holding")
		return finish()
	}
	if current.Holds(desired) {
		log.Debug("already holding desired position", zap.String("asset_id", desired.AssetID))
		return finish()
	}
	if desired.AssetID == "" {
		return fail(KindFatal, fmt.Errorf("desired position %q has no asset id", desired.Tag))
	}

	if current.Held() && current.AssetID != "" {
		res.State = StateSelling
		sold, err := r.sell(ctx, log, current.AssetID)
		if sold > 0 {
			res.Orders++
			res.Sold = sold
		}
		if err != nil {
			return fail(Classify(err), err)
		}
		if sold > 0 {
			res.State = StateSettling
			if err := r.sleep(ctx, r.cfg.SettlementDelay); err != nil {
				return fail(KindTimeout, err)
			}
		}
	}

	res.State = StateBuying
	held, err := r.cache.Get(ctx, desired.AssetID)
	if err != nil {
		return fail(Classify(err), fmt.Errorf("desired asset balance: %w", err))
	}
	if held > r.cfg.MinimumBalance {
		log.Info("desired position already held, skipping buy",
			zap.String("asset_id", desired.AssetID),
			zap.Stringer("balance", held),
		)
		r.cache.SetTracked(desired.Tag)
		res.State = StateDone
		return finish()
	}

	collateral, err := r.awaitCollateral(ctx, log)
	if err != nil {
		return fail(Classify(err), err)
	}

	amount := r.tradeAmount(collateral)
	if amount.LessThan(r.cfg.MinTradeUSD) {
		res.Skipped = "below minimum trade amount"
		res.State = StateFailed
		log.Info("trade amount below minimum, skipping buy",
			zap.String("amount_usd", amount.StringFixed(2)),
			zap.String("min_trade_usd", r.cfg.MinTradeUSD.StringFixed(2)),
			zap.Stringer("collateral", collateral),
		)
		return finish()
	}

	spend := BalanceFromDecimal(amount)
	err = r.submit(ctx, log, MarketOrderArgs{TokenID: desired.AssetID, Amount: spend, Side: SideBuy})
	res.Orders++
	r.cache.Invalidate(desired.AssetID)
	r.cache.InvalidateCollateral()
	if err != nil {
		return fail(Classify(err), fmt.Errorf("buy %s: %w", desired.Tag, err))
	}

	res.Bought = spend
	r.cache.SetTracked(desired.Tag)
	res.State = StateDone
	log.Info("rotation complete",
		zap.Stringer("sold", res.Sold),
		zap.Stringer("spent", spend),
		zap.Int("orders", res.Orders),
	)
	return finish()
}

// sell liquidates assetID. It returns the amount offered, zero when the
// balance was dust.
func (r *Rotator) sell(ctx context.Context, log *zap.Logger, assetID string) (Balance, error) {
	balance, err := r.cache.Get(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("current asset balance: %w", err)
	}
	if balance <= r.cfg.MinimumBalance {
		log.Info("current balance is dust, nothing to sell",
			zap.String("asset_id", assetID),
			zap.Stringer("balance", balance),
		)
		return 0, nil
	}

	if err := r.ledger.CancelAll(ctx); err != nil {
		return 0, fmt.Errorf("cancel open orders: %w", err)
	}

	err = r.submit(ctx, log, MarketOrderArgs{TokenID: assetID, Amount: balance, Side: SideSell})
	r.cache.Invalidate(assetID)
	if err != nil {
		return balance, fmt.Errorf("sell: %w", err)
	}
	log.Info("sold current position",
		zap.String("asset_id", assetID),
		zap.Stringer("amount", balance),
	)
	return balance, nil
}

var errInsufficientCollateral = errors.New("no collateral available")

func (r *Rotator) awaitCollateral(ctx context.Context, log *zap.Logger) (Balance, error) {
	for attempt := 1; attempt <= r.cfg.BuyMaxAttempts; attempt++ {
		collateral, err := r.cache.GetCollateral(ctx)
		if err != nil {
			return 0, fmt.Errorf("collateral balance: %w", err)
		}
		if collateral > 0 {
			return collateral, nil
		}
		r.cache.InvalidateCollateral()
		log.Warn("no collateral yet",
			zap.String("kind", string(KindInsufficientFunds)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.BuyMaxAttempts),
		)
		if attempt == r.cfg.BuyMaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.cfg.BuyRetryDelay); err != nil {
			return 0, err
		}
	}
	return 0, NewError(KindInsufficientFunds, "buy", fmt.Errorf("%w after %d attempts", errInsufficientCollateral, r.cfg.BuyMaxAttempts))
}

// tradeAmount picks the USD amount to spend, capped at collateral.
func (r *Rotator) tradeAmount(collateral Balance) decimal.Decimal {
	available := collateral.Decimal()
	amount := available
	switch {
	case r.cfg.TradeSizePercent.IsPositive():
		amount = available.Mul(r.cfg.TradeSizePercent).Div(decimal.NewFromInt(100))
	case r.cfg.FixedTradeUSD.IsPositive():
		amount = r.cfg.FixedTradeUSD
	}
	if amount.GreaterThan(available) {
		amount = available
	}
	return amount.Truncate(BalanceDecimals)
}

func (r *Rotator) submit(ctx context.Context, log *zap.Logger, args MarketOrderArgs) error {
	side := string(args.Side)
	order, err := r.ledger.CreateMarketOrder(ctx, args)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(side, "error").Inc()
		return fmt.Errorf("create order: %w", err)
	}
	result, err := r.ledger.PostOrder(ctx, order, OrderTypeFOK)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(side, "error").Inc()
		return fmt.Errorf("post order: %w", err)
	}
	if !result.Filled {
		metrics.OrdersTotal.WithLabelValues(side, "unfilled").Inc()
		return NewError(KindRejected, "post_order", fmt.Errorf("order not filled: %s", result.ErrorMsg))
	}
	metrics.OrdersTotal.WithLabelValues(side, "filled").Inc()
	log.Debug("order filled",
		zap.String("side", side),
		zap.String("token_id", args.TokenID),
		zap.Stringer("amount", args.Amount),
		zap.String("order_id", result.OrderID),
	)
	return nil
}
