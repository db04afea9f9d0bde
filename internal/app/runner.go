package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	clts "polyrotate/clients"
	"polyrotate/clients/notifier"
	"polyrotate/config"
	"polyrotate/internal/metrics"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/redeem"
	"polyrotate/internal/signal"
	"polyrotate/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// EvaluatorFactory builds the signal evaluator for a config. It is called at
// start and again when a reload changes the signal settings.
type EvaluatorFactory func(cfg *config.Config) (signal.Evaluator, error)

// Options wires a Runner. Syncer and Redeemer are optional.
type Options struct {
	Clients      *clts.Clients
	LiveConfig   *config.LiveConfig
	Ledger       portfolio.Ledger
	Lookup       portfolio.MetadataLookup
	NewEvaluator EvaluatorFactory
	Syncer       *store.Syncer
	Redeemer     redeem.Redeemer
	Resolutions  redeem.ResolutionSource // optional upstream check before redeeming
}

// Runner owns the poll loop: one cycle reads trades, resolves the held
// position, evaluates the signal and rotates when they differ.
type Runner struct {
	clients      *clts.Clients
	liveConfig   *config.LiveConfig
	logger       *zap.Logger
	ledger       *portfolio.RetryingLedger
	cache        *portfolio.BalanceCache
	lookup       portfolio.MetadataLookup
	resolver     *portfolio.Resolver
	rotator      *portfolio.Rotator
	newEvaluator EvaluatorFactory
	evaluator    signal.Evaluator
	syncer       *store.Syncer
	checker      *redeem.Checker
	healthServer *http.Server

	startTime time.Time
	cutoff    time.Time
	now       func() time.Time
	sleep     portfolio.Sleeper

	// Latest reloaded config, applied between cycles by the loop goroutine.
	reloads chan *config.Config

	mu    sync.RWMutex
	state runnerState
}

func NewRunner(opts Options) *Runner {
	logger := zap.NewNop()
	if opts.Clients != nil && opts.Clients.Logger != nil {
		logger = opts.Clients.Logger
	}
	cfg := opts.LiveConfig.Get()

	ledger := portfolio.NewRetryingLedger(opts.Ledger, retryPolicy(cfg, logger))
	cache := portfolio.NewBalanceCache(ledger)

	r := &Runner{
		clients:      opts.Clients,
		liveConfig:   opts.LiveConfig,
		logger:       logger.Named("runner"),
		ledger:       ledger,
		cache:        cache,
		lookup:       opts.Lookup,
		rotator:      portfolio.NewRotator(ledger, cache, rotationConfig(cfg), logger),
		newEvaluator: opts.NewEvaluator,
		syncer:       opts.Syncer,
		now:          time.Now,
		sleep:        portfolio.SleepContext,
		reloads:      make(chan *config.Config, 1),
	}
	r.resolver = r.buildResolver(cfg)

	if opts.Redeemer != nil {
		var n notifier.Notifier
		if opts.Clients != nil {
			n = opts.Clients.Notifier
		}
		r.checker = redeem.NewChecker(opts.Lookup, cache, opts.Redeemer, n, cfg.Bot.Name, logger)
		if opts.Resolutions != nil {
			r.checker.SetResolutionSource(opts.Resolutions)
		}
	}
	return r
}

// SetSleeper replaces every delay of the loop and the rotator.
func (r *Runner) SetSleeper(s portfolio.Sleeper) {
	if s == nil {
		return
	}
	r.sleep = s
	r.rotator.SetSleeper(s)
	policy := retryPolicy(r.liveConfig.Get(), r.logger)
	policy.Sleep = s
	r.ledger.SetPolicy(policy)
}

// OnConfigUpdate queues cfg for the loop. Only the newest pending config is
// kept. Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received, applying before next cycle")
	select {
	case <-r.reloads:
	default:
	}
	select {
	case r.reloads <- cfg:
	default:
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = r.now()
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	evaluator, err := r.newEvaluator(cfg)
	if err != nil {
		return fmt.Errorf("build %s evaluator: %w", cfg.Bot.Strategy, err)
	}
	r.evaluator = evaluator
	if err := r.setCutoff(cfg.Bot.StopAt); err != nil {
		return portfolio.NewError(portfolio.KindFatal, "config", err)
	}

	r.logger.Info("starting poll loop",
		zap.String("bot", cfg.Bot.Name),
		zap.String("strategy", evaluator.Name()),
		zap.Duration("poll_interval", cfg.Bot.PollInterval),
		zap.String("stop_at", cfg.Bot.StopAt),
		zap.Bool("redeem_enabled", cfg.Bot.RedeemEnabled && r.checker != nil),
	)

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		r.logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}
	defer r.stopHealthServer()

	if r.syncer != nil && cfg.Store.SyncOnStart {
		r.syncMarkets(ctx)
	}

	for {
		cfg = r.applyPendingConfig(cfg)

		if r.pastCutoff() {
			r.logger.Info("stop time reached, exiting", zap.String("stop_at", cfg.Bot.StopAt))
			return nil
		}

		if r.syncer != nil && r.syncer.Due(r.now(), cfg.Store.SyncInterval) {
			r.syncMarkets(ctx)
		}

		if err := r.RunCycle(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				break
			}
			if portfolio.Classify(err) == portfolio.KindFatal {
				return err
			}
		}

		if err := r.sleep(ctx, r.nextDelay(cfg.Bot.PollInterval)); err != nil {
			break
		}
	}

	r.logger.Info("runner shutting down")
	return nil
}

// RunCycle runs one iteration of the loop. The balance cache is cleared on
// every exit path. Only a Fatal error should end the loop.
func (r *Runner) RunCycle(ctx context.Context, cfg *config.Config) (err error) {
	cycleID := uuid.NewString()
	start := r.now()
	log := r.logger.With(zap.String("cycle_id", cycleID))

	rec := cycleRecord{ID: cycleID, StartedAt: start}
	defer func() {
		r.cache.ClearAll()
		rec.Duration = r.now().Sub(start)
		result := "ok"
		if err != nil {
			result = "error"
			rec.Err = err.Error()
			rec.Kind = string(portfolio.Classify(err))
		}
		metrics.CyclesTotal.WithLabelValues(result).Inc()
		metrics.ObserveSince(start)
		r.recordCycle(rec)
	}()

	trades, err := r.ledger.GetTrades(ctx)
	if err != nil {
		log.Warn("failed to fetch trades, skipping cycle",
			zap.String("kind", string(portfolio.Classify(err))),
			zap.Error(err),
		)
		return fmt.Errorf("get trades: %w", err)
	}
	candidates := portfolio.CandidateAssets(trades)

	current, err := r.resolver.ResolveCurrentPosition(ctx, candidates)
	if err != nil {
		log.Warn("failed to resolve current position, skipping cycle", zap.Error(err))
		return fmt.Errorf("resolve position: %w", err)
	}
	rec.Current = current
	if current.Held() {
		metrics.HeldPosition.Set(1)
	} else {
		metrics.HeldPosition.Set(0)
	}

	var cycleErr error
	desired, err := r.evaluator.Evaluate(ctx)
	if err != nil {
		if portfolio.Classify(err) == portfolio.KindFatal {
			log.Error("signal evaluation failed fatally", zap.Error(err))
			return err
		}
		log.Warn("signal evaluation failed, holding",
			zap.String("strategy", r.evaluator.Name()),
			zap.Error(err),
		)
		cycleErr = fmt.Errorf("evaluate %s: %w", r.evaluator.Name(), err)
		desired = nil
	}
	if desired != nil {
		rec.Desired = desired.Tag
	}

	log.Info("cycle state",
		zap.Int("trades", len(trades)),
		zap.Int("candidates", len(candidates)),
		zap.String("current", string(current.Tag)),
		zap.String("current_asset", shortID(current.AssetID)),
		zap.Stringer("current_balance", current.Balance),
		zap.String("desired", string(rec.Desired)),
	)

	if desired != nil && !current.Holds(desired) {
		res := r.rotator.Rotate(ctx, current, desired)
		rec.Rotation = &res
		r.notifyRotation(cfg, cycleID, res)
	}

	if cfg.Bot.RedeemEnabled && r.checker != nil {
		rr := r.checker.Check(ctx, candidates)
		rec.Redeemed = rr
	}

	return cycleErr
}

func (r *Runner) notifyRotation(cfg *config.Config, cycleID string, res portfolio.RotationResult) {
	if r.clients == nil || r.clients.Notifier == nil || res.Noop() {
		return
	}

	alert := notifier.RotationAlert{
		BotName:    cfg.Bot.Name,
		RotationID: res.ID,
		CycleID:    cycleID,
		From:       string(res.From),
		To:         string(res.To),
		Orders:     res.Orders,
		Sold:       res.Sold.String(),
		Spent:      res.Bought.String(),
		Duration:   res.Duration,
		Timestamp:  res.StartedAt,
	}
	switch {
	case res.Skipped != "":
		alert.Outcome = notifier.OutcomeSkipped
		alert.Reason = res.Skipped
	case res.State == portfolio.StateDone:
		alert.Outcome = notifier.OutcomeDone
	default:
		alert.Outcome = notifier.OutcomeFailed
		alert.ErrorKind = string(res.Kind)
		if res.Err != nil {
			alert.Error = res.Err.Error()
		}
	}
	r.clients.Notifier.SendRotationAlert(alert)
}

func (r *Runner) syncMarkets(ctx context.Context) {
	n, err := r.syncer.Sync(ctx)
	if err != nil {
		r.logger.Warn("market sync failed", zap.Int("written", n), zap.Error(err))
	}
	r.mu.Lock()
	r.state.MarketsSynced += n
	if err == nil {
		r.state.LastSyncAt = r.now()
	}
	r.mu.Unlock()
}

// applyPendingConfig swaps in a reloaded config, if one is queued.
func (r *Runner) applyPendingConfig(cfg *config.Config) *config.Config {
	var next *config.Config
	select {
	case next = <-r.reloads:
	default:
		return cfg
	}

	r.rotator.SetConfig(rotationConfig(next))
	policy := retryPolicy(next, r.logger)
	policy.Sleep = r.sleep
	r.ledger.SetPolicy(policy)
	r.resolver = r.buildResolver(next)

	if next.Bot.StopAt != cfg.Bot.StopAt {
		if err := r.setCutoff(next.Bot.StopAt); err != nil {
			r.logger.Warn("ignoring invalid stop time", zap.String("stop_at", next.Bot.StopAt), zap.Error(err))
		}
	}

	if next.Signals != cfg.Signals {
		evaluator, err := r.newEvaluator(next)
		if err != nil {
			r.logger.Warn("keeping previous evaluator", zap.Error(err))
		} else {
			r.evaluator = evaluator
		}
	}

	r.logger.Info("config reloaded",
		zap.Duration("poll_interval", next.Bot.PollInterval),
		zap.Float64("trade_size_percent", next.Trading.TradeSizePercent),
		zap.Float64("fixed_trade_usd", next.Trading.FixedTradeUSD),
	)
	return next
}

// setCutoff arms the wall-clock stop at the next occurrence of stopAt
// (HH:MM, local time). Empty disarms it.
func (r *Runner) setCutoff(stopAt string) error {
	if stopAt == "" {
		r.cutoff = time.Time{}
		return nil
	}
	offset, err := config.ParseClock(stopAt)
	if err != nil {
		return err
	}
	r.cutoff = nextCutoff(r.now(), offset)
	r.logger.Info("stop time armed", zap.Time("at", r.cutoff))
	return nil
}

func nextCutoff(now time.Time, offset time.Duration) time.Time {
	y, m, d := now.Date()
	at := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(offset)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func (r *Runner) pastCutoff() bool {
	return !r.cutoff.IsZero() && !r.now().Before(r.cutoff)
}

// nextDelay is the poll interval, shortened so the loop wakes at the cutoff.
func (r *Runner) nextDelay(interval time.Duration) time.Duration {
	if r.cutoff.IsZero() {
		return interval
	}
	if until := r.cutoff.Sub(r.now()); until < interval {
		return max(until, 0)
	}
	return interval
}

func (r *Runner) buildResolver(cfg *config.Config) *portfolio.Resolver {
	lookup := portfolio.WithTags(r.lookup, signal.PositionTags(cfg))
	return portfolio.NewResolver(r.cache, lookup, portfolio.ResolverOptions{
		MinimumBalance: portfolio.Balance(cfg.Trading.MinimumBalance),
		Concurrency:    cfg.Trading.ResolverConcurrency,
	}, r.logger)
}

func rotationConfig(cfg *config.Config) portfolio.RotationConfig {
	t := cfg.Trading
	return portfolio.RotationConfig{
		MinimumBalance:   portfolio.Balance(t.MinimumBalance),
		MinTradeUSD:      decimal.NewFromFloat(t.MinTradeUSD),
		FixedTradeUSD:    decimal.NewFromFloat(t.FixedTradeUSD),
		TradeSizePercent: decimal.NewFromFloat(t.TradeSizePercent),
		SettlementDelay:  t.SettlementDelay,
		BuyMaxAttempts:   t.BuyMaxAttempts,
		BuyRetryDelay:    t.BuyRetryDelay,
	}
}

func retryPolicy(cfg *config.Config, logger *zap.Logger) portfolio.RetryPolicy {
	return portfolio.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		RateLimitDelay: cfg.Retry.RateLimitDelay,
		MaxJitter:      cfg.Retry.MaxJitter,
		CallTimeout:    cfg.Retry.CallTimeout,
		Logger:         logger,
	}
}

func (r *Runner) stopHealthServer() {
	if r.healthServer == nil {
		return
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := r.healthServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.logger.Warn("health server shutdown", zap.Error(err))
	}
}
