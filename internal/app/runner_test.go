package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	clts "polyrotate/clients"
	"polyrotate/clients/clob"
	"polyrotate/clients/notifier"
	"polyrotate/config"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/signal"
	"polyrotate/internal/store"

	"go.uber.org/zap"
)

// fakeLedger settles orders instantly: sells credit collateral one-for-one,
// buys debit collateral and credit twice as many shares.
type fakeLedger struct {
	mu         sync.Mutex
	trades     []portfolio.Trade
	tradesErr  error
	balances   map[string]portfolio.Balance
	collateral portfolio.Balance
	orders     []portfolio.MarketOrderArgs
	cancels    int
}

func newFakeLedger(assets ...string) *fakeLedger {
	f := &fakeLedger{balances: make(map[string]portfolio.Balance)}
	for _, a := range assets {
		f.trades = append(f.trades, portfolio.Trade{ID: "t-" + a, AssetID: a, TraderSide: portfolio.TraderSideTaker})
	}
	return f
}

func (f *fakeLedger) GetTrades(context.Context) ([]portfolio.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return append([]portfolio.Trade(nil), f.trades...), nil
}

func (f *fakeLedger) GetBalance(_ context.Context, q portfolio.BalanceQuery) (portfolio.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.AssetType == portfolio.AssetTypeCollateral {
		return f.collateral, nil
	}
	return f.balances[q.TokenID], nil
}

func (f *fakeLedger) CreateMarketOrder(_ context.Context, args portfolio.MarketOrderArgs) (*portfolio.Order, error) {
	return &portfolio.Order{TokenID: args.TokenID, Side: args.Side, Amount: args.Amount, Payload: args}, nil
}

func (f *fakeLedger) PostOrder(_ context.Context, order *portfolio.Order, _ portfolio.OrderType) (portfolio.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := order.Payload.(portfolio.MarketOrderArgs)
	f.orders = append(f.orders, args)
	if args.Side == portfolio.SideSell {
		f.balances[args.TokenID] -= args.Amount
		f.collateral += args.Amount
	} else {
		f.collateral -= args.Amount
		f.balances[args.TokenID] += 2 * args.Amount
	}
	return portfolio.OrderResult{OrderID: "0x" + args.TokenID, Filled: true}, nil
}

func (f *fakeLedger) CancelAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

type fakeEvaluator struct {
	name   string
	target *portfolio.Target
	err    error
	calls  int
}

func (e *fakeEvaluator) Name() string {
	if e.name == "" {
		return "fake"
	}
	return e.name
}

func (e *fakeEvaluator) Evaluate(context.Context) (*portfolio.Target, error) {
	e.calls++
	return e.target, e.err
}

type recordingNotifier struct {
	mu          sync.Mutex
	rotations   []notifier.RotationAlert
	redemptions []notifier.RedemptionAlert
}

func (n *recordingNotifier) SendRotationAlert(a notifier.RotationAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rotations = append(n.rotations, a)
}

func (n *recordingNotifier) SendRedemptionAlert(a notifier.RedemptionAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redemptions = append(n.redemptions, a)
}

func (n *recordingNotifier) Close() error { return nil }

type fakeRedeemer struct {
	calls []string
}

func (f *fakeRedeemer) Redeem(_ context.Context, conditionID string, _ bool, _ [2]portfolio.Balance) (string, error) {
	f.calls = append(f.calls, conditionID)
	return "0xtx", nil
}

type fakePager struct {
	calls int
}

func (p *fakePager) GetMarkets(context.Context, string) (*clob.MarketsPage, error) {
	p.calls++
	return &clob.MarketsPage{
		NextCursor: clob.EndCursor,
		Data: []clob.Market{
			{MarketSlug: "anthropic-top-model", ConditionID: "0x01", Question: "Will Anthropic have the best AI model at the end of June?",
				Tokens: []clob.MarketToken{{TokenID: "a-yes", Outcome: "Yes"}, {TokenID: "a-no", Outcome: "No"}}},
			{MarketSlug: "xai-top-model", ConditionID: "0x02", Question: "Will xAI have the best AI model at the end of June?",
				Tokens: []clob.MarketToken{{TokenID: "x-yes", Outcome: "Yes"}, {TokenID: "x-no", Outcome: "No"}}},
		},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.HealthServer.Enabled = false
	cfg.Store.SyncOnStart = false
	cfg.Store.SyncInterval = 0
	cfg.Trading.SettlementDelay = 0
	cfg.Trading.BuyRetryDelay = 0
	cfg.Trading.BuyMaxAttempts = 2
	cfg.Retry.BaseDelay = 0
	cfg.Retry.MaxJitter = 0
	cfg.Retry.RateLimitDelay = 0
	return cfg
}

func testLookup(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	err := s.UpsertMarkets(context.Background(), []store.Market{
		{MarketSlug: "google-top-model", ConditionID: "0xgoogle", Active: true,
			Tokens: []store.Token{{TokenID: "g-yes", Outcome: "Yes", PositionTag: "Google"}}},
		{MarketSlug: "openai-top-model", ConditionID: "0xopenai", Active: true,
			Tokens: []store.Token{{TokenID: "o-yes", Outcome: "Yes", PositionTag: "OpenAI"}}},
		{MarketSlug: "resolved-market", ConditionID: "0xcond", Closed: true,
			Tokens: []store.Token{{TokenID: "x-yes", Outcome: "Yes"}}},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func newTestRunner(t *testing.T, cfg *config.Config, ledger *fakeLedger, eval *fakeEvaluator, mutate func(*Options)) (*Runner, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	opts := Options{
		Clients:    &clts.Clients{Logger: zap.NewNop(), Notifier: n},
		LiveConfig: config.NewLiveConfig(cfg),
		Ledger:     ledger,
		Lookup:     testLookup(t),
		NewEvaluator: func(*config.Config) (signal.Evaluator, error) {
			return eval, nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	r := NewRunner(opts)
	r.SetSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	r.evaluator = eval
	return r, n
}

func TestRunCycle_RotatesToDesiredPosition(t *testing.T) {
	ledger := newFakeLedger("g-yes", "o-yes")
	ledger.balances["g-yes"] = 5_000_000
	eval := &fakeEvaluator{target: &portfolio.Target{Tag: "OpenAI", AssetID: "o-yes"}}
	r, n := newTestRunner(t, testConfig(), ledger, eval, nil)

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.orders) != 2 {
		t.Fatalf("expected sell and buy, got %+v", ledger.orders)
	}
	if o := ledger.orders[0]; o.Side != portfolio.SideSell || o.TokenID != "g-yes" || o.Amount != 5_000_000 {
		t.Errorf("unexpected sell: %+v", o)
	}
	if o := ledger.orders[1]; o.Side != portfolio.SideBuy || o.TokenID != "o-yes" || o.Amount != 5_000_000 {
		t.Errorf("unexpected buy: %+v", o)
	}
	if ledger.cancels != 1 {
		t.Errorf("expected open orders to be cancelled before selling, got %d", ledger.cancels)
	}

	if len(n.rotations) != 1 {
		t.Fatalf("expected one rotation alert, got %d", len(n.rotations))
	}
	alert := n.rotations[0]
	if alert.Outcome != notifier.OutcomeDone || alert.From != "Google" || alert.To != "OpenAI" || alert.Orders != 2 {
		t.Errorf("unexpected alert: %+v", alert)
	}
	if alert.Spent != "5.000000" {
		t.Errorf("expected 5.000000 spent, got %s", alert.Spent)
	}

	stats := r.GetStats()
	if stats.Cycles.Total != 1 || stats.Cycles.Errors != 0 {
		t.Errorf("unexpected cycle stats: %+v", stats.Cycles)
	}
	if stats.Position.Current != "Google" || stats.Position.Desired != "OpenAI" {
		t.Errorf("unexpected position stats: %+v", stats.Position)
	}
	if stats.Rotations.Done != 1 || stats.Rotations.Last == nil || stats.Rotations.Last.State != string(portfolio.StateDone) {
		t.Errorf("unexpected rotation stats: %+v", stats.Rotations)
	}
	if stats.BalanceCache.Entries != 0 {
		t.Errorf("expected balance cache to be cleared after the cycle, got %d entries", stats.BalanceCache.Entries)
	}
}

func TestRunCycle_HoldsWhenAlreadyPositioned(t *testing.T) {
	ledger := newFakeLedger("g-yes")
	ledger.balances["g-yes"] = 5_000_000
	eval := &fakeEvaluator{target: &portfolio.Target{Tag: "Google", AssetID: "g-yes"}}
	r, n := newTestRunner(t, testConfig(), ledger, eval, nil)

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.orders) != 0 || len(n.rotations) != 0 {
		t.Errorf("expected no trading, got orders=%d alerts=%d", len(ledger.orders), len(n.rotations))
	}
	if r.GetStats().Rotations.Last != nil {
		t.Error("expected no rotation to be recorded")
	}
}

func btcTestConfig() *config.Config {
	cfg := testConfig()
	cfg.Bot.Strategy = config.StrategyBTC
	cfg.Signals.BTC.UpTokenID = "btc-yes"
	cfg.Signals.BTC.DownTokenID = "btc-no"
	return cfg
}

func btcLookup(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	err := s.UpsertMarkets(context.Background(), []store.Market{
		{MarketSlug: "btc-above-100k", ConditionID: "0xbtc", Active: true,
			Tokens: []store.Token{
				{TokenID: "btc-yes", Outcome: "Yes", PositionTag: "btc-above-100k"},
				{TokenID: "btc-no", Outcome: "No"},
			}},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func TestRunCycle_BTCHoldsWhenTokenAlreadyHeld(t *testing.T) {
	ledger := newFakeLedger("btc-yes")
	ledger.balances["btc-yes"] = 10_000_000
	eval := &fakeEvaluator{target: &portfolio.Target{Tag: signal.TagUp, AssetID: "btc-yes"}}
	r, n := newTestRunner(t, btcTestConfig(), ledger, eval, func(o *Options) { o.Lookup = btcLookup(t) })

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.orders) != 0 || len(n.rotations) != 0 {
		t.Errorf("expected no trading, got orders=%+v alerts=%d", ledger.orders, len(n.rotations))
	}
	if got := r.GetStats().Position.Current; got != string(signal.TagUp) {
		t.Errorf("expected held position to resolve as UP, got %q", got)
	}
}

func TestRunCycle_BTCRotatesDownToUp(t *testing.T) {
	ledger := newFakeLedger("btc-no")
	ledger.balances["btc-no"] = 4_000_000
	eval := &fakeEvaluator{target: &portfolio.Target{Tag: signal.TagUp, AssetID: "btc-yes"}}
	r, n := newTestRunner(t, btcTestConfig(), ledger, eval, func(o *Options) { o.Lookup = btcLookup(t) })

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.orders) != 2 {
		t.Fatalf("expected sell and buy, got %+v", ledger.orders)
	}
	if o := ledger.orders[0]; o.Side != portfolio.SideSell || o.TokenID != "btc-no" || o.Amount != 4_000_000 {
		t.Errorf("unexpected sell: %+v", o)
	}
	if o := ledger.orders[1]; o.Side != portfolio.SideBuy || o.TokenID != "btc-yes" {
		t.Errorf("unexpected buy: %+v", o)
	}
	if len(n.rotations) != 1 || n.rotations[0].From != string(signal.TagDown) || n.rotations[0].To != string(signal.TagUp) {
		t.Errorf("unexpected alerts: %+v", n.rotations)
	}
}

func TestRunCycle_EvaluatorErrorHolds(t *testing.T) {
	ledger := newFakeLedger("g-yes")
	ledger.balances["g-yes"] = 5_000_000
	eval := &fakeEvaluator{err: errors.New("leaderboard unavailable")}
	r, _ := newTestRunner(t, testConfig(), ledger, eval, nil)

	err := r.RunCycle(context.Background(), r.liveConfig.Get())
	if err == nil {
		t.Fatal("expected the evaluation error to be reported")
	}
	if portfolio.Classify(err) == portfolio.KindFatal {
		t.Errorf("expected a non-fatal error, got %v", err)
	}
	if len(ledger.orders) != 0 {
		t.Errorf("expected no orders, got %+v", ledger.orders)
	}

	stats := r.GetStats()
	if stats.Cycles.Errors != 1 || stats.Position.Desired != "hold" || stats.Position.Current != "Google" {
		t.Errorf("unexpected stats: cycles=%+v position=%+v", stats.Cycles, stats.Position)
	}
}

func TestRunCycle_FatalEvaluatorError(t *testing.T) {
	ledger := newFakeLedger()
	eval := &fakeEvaluator{err: portfolio.Fatalf("no tweet markets configured")}
	r, _ := newTestRunner(t, testConfig(), ledger, eval, nil)

	err := r.RunCycle(context.Background(), r.liveConfig.Get())
	if portfolio.Classify(err) != portfolio.KindFatal {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestRunCycle_TradesErrorSkipsCycle(t *testing.T) {
	ledger := newFakeLedger("g-yes")
	ledger.tradesErr = portfolio.NewError(portfolio.KindRejected, "get_trades", errors.New("invalid api key"))
	eval := &fakeEvaluator{target: &portfolio.Target{Tag: "OpenAI", AssetID: "o-yes"}}
	r, _ := newTestRunner(t, testConfig(), ledger, eval, nil)

	err := r.RunCycle(context.Background(), r.liveConfig.Get())
	if portfolio.Classify(err) != portfolio.KindRejected {
		t.Errorf("expected rejected error, got %v", err)
	}
	if eval.calls != 0 {
		t.Errorf("expected the signal not to be evaluated, got %d calls", eval.calls)
	}
	if got := r.GetStats().Cycles.LastKind; got != string(portfolio.KindRejected) {
		t.Errorf("expected last error kind rejected, got %q", got)
	}
}

func TestRunCycle_RedeemsResolvedPositions(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.RedeemEnabled = true
	ledger := newFakeLedger("g-yes", "x-yes")
	ledger.balances["g-yes"] = 5_000_000
	ledger.balances["x-yes"] = 2_000_000
	redeemer := &fakeRedeemer{}
	eval := &fakeEvaluator{}
	r, n := newTestRunner(t, cfg, ledger, eval, func(o *Options) { o.Redeemer = redeemer })

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(redeemer.calls) != 1 || redeemer.calls[0] != "0xcond" {
		t.Errorf("unexpected redemptions: %v", redeemer.calls)
	}
	if len(n.redemptions) != 1 || n.redemptions[0].TxHash != "0xtx" {
		t.Errorf("unexpected redemption alerts: %+v", n.redemptions)
	}
	stats := r.GetStats()
	if stats.Redemptions.Submitted != 1 || stats.Position.Current != "Google" {
		t.Errorf("unexpected stats: redemptions=%+v position=%+v", stats.Redemptions, stats.Position)
	}
}

type openResolutions struct{ calls int }

func (o *openResolutions) ConditionClosed(context.Context, string) (bool, error) {
	o.calls++
	return false, nil
}

func TestRunCycle_RedemptionWaitsForUpstreamClose(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.RedeemEnabled = true
	ledger := newFakeLedger("x-yes")
	ledger.balances["x-yes"] = 2_000_000
	redeemer := &fakeRedeemer{}
	src := &openResolutions{}
	r, _ := newTestRunner(t, cfg, ledger, &fakeEvaluator{}, func(o *Options) {
		o.Redeemer = redeemer
		o.Resolutions = src
	})

	if err := r.RunCycle(context.Background(), r.liveConfig.Get()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 1 || len(redeemer.calls) != 0 {
		t.Errorf("expected redemption to wait for upstream close, asked=%d redeemed=%v", src.calls, redeemer.calls)
	}
}

func TestRun_StopsAtCutoff(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.PollInterval = time.Minute
	cfg.Bot.StopAt = "17:10"
	ledger := newFakeLedger()
	eval := &fakeEvaluator{}
	r, _ := newTestRunner(t, cfg, ledger, eval, nil)

	clock := time.Date(2026, 3, 10, 17, 0, 0, 0, time.Local)
	r.now = func() time.Time { return clock }
	r.SetSleeper(func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return ctx.Err()
	})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.calls != 10 {
		t.Errorf("expected 10 cycles before 17:10, got %d", eval.calls)
	}
	if !clock.Equal(time.Date(2026, 3, 10, 17, 10, 0, 0, time.Local)) {
		t.Errorf("expected to stop at 17:10, clock is %s", clock)
	}
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	ledger := newFakeLedger()
	eval := &fakeEvaluator{}
	r, _ := newTestRunner(t, testConfig(), ledger, eval, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.SetSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	})

	if err := r.Run(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("expected one cycle, got %d", eval.calls)
	}
}

func TestRun_FatalEvaluatorStopsLoop(t *testing.T) {
	ledger := newFakeLedger()
	eval := &fakeEvaluator{err: portfolio.Fatalf("market gone")}
	r, _ := newTestRunner(t, testConfig(), ledger, eval, nil)

	err := r.Run(context.Background())
	if portfolio.Classify(err) != portfolio.KindFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("expected the loop to stop after one cycle, got %d", eval.calls)
	}
}

func TestRun_EvaluatorBuildFailure(t *testing.T) {
	r, _ := newTestRunner(t, testConfig(), newFakeLedger(), &fakeEvaluator{}, func(o *Options) {
		o.NewEvaluator = func(*config.Config) (signal.Evaluator, error) {
			return nil, portfolio.Fatalf("btc strategy needs a price source")
		}
	})

	err := r.Run(context.Background())
	if portfolio.Classify(err) != portfolio.KindFatal {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestRun_InvalidStopAt(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.StopAt = "25:99"
	r, _ := newTestRunner(t, cfg, newFakeLedger(), &fakeEvaluator{}, nil)

	if err := r.Run(context.Background()); portfolio.Classify(err) != portfolio.KindFatal {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestRun_SyncsMarketsOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SyncOnStart = true
	rule, err := store.NewTagRule(cfg.Store.TagPattern)
	if err != nil {
		t.Fatalf("tag rule: %v", err)
	}
	pager := &fakePager{}
	synced := store.NewMemoryStore()
	syncer := store.NewSyncer(pager, synced, rule, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	r, _ := newTestRunner(t, cfg, newFakeLedger(), &fakeEvaluator{}, func(o *Options) { o.Syncer = syncer })
	r.SetSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	})

	if err := r.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pager.calls != 1 {
		t.Errorf("expected one page fetch, got %d", pager.calls)
	}
	if got := r.GetStats().Store.MarketsSynced; got != 2 {
		t.Errorf("expected 2 markets synced, got %d", got)
	}
	info, err := synced.LookupAsset(context.Background(), "a-yes")
	if err != nil || info.Tag != "Anthropic" {
		t.Errorf("expected synced token tagged Anthropic, got %+v, %v", info, err)
	}
}

func TestApplyPendingConfig(t *testing.T) {
	cfg := testConfig()
	first := &fakeEvaluator{name: "first"}
	second := &fakeEvaluator{name: "second"}
	builds := 0
	r, _ := newTestRunner(t, cfg, newFakeLedger(), first, func(o *Options) {
		o.NewEvaluator = func(*config.Config) (signal.Evaluator, error) {
			builds++
			return second, nil
		}
	})

	if got := r.applyPendingConfig(cfg); got != cfg {
		t.Error("expected config to be unchanged with nothing queued")
	}

	sameSignals := cfg.Clone()
	sameSignals.Bot.PollInterval = 5 * time.Second
	r.OnConfigUpdate(sameSignals)
	got := r.applyPendingConfig(cfg)
	if got.Bot.PollInterval != 5*time.Second {
		t.Errorf("expected reloaded poll interval, got %s", got.Bot.PollInterval)
	}
	if builds != 0 || r.evaluator != first {
		t.Error("evaluator should be kept when signal settings are unchanged")
	}

	stale := got.Clone()
	stale.Signals.Leaderboard.Outcome = "Maybe"
	newer := got.Clone()
	newer.Signals.Leaderboard.Outcome = "No"
	r.OnConfigUpdate(stale)
	r.OnConfigUpdate(newer)
	got = r.applyPendingConfig(got)
	if got.Signals.Leaderboard.Outcome != "No" {
		t.Errorf("expected newest queued config, got outcome %q", got.Signals.Leaderboard.Outcome)
	}
	if builds != 1 || r.evaluator != second {
		t.Errorf("expected evaluator to be rebuilt once, builds=%d", builds)
	}
}

func TestNextCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		offset time.Duration
		want   time.Time
	}{
		{"later today", 17*time.Hour + 10*time.Minute, time.Date(2026, 3, 10, 17, 10, 0, 0, time.UTC)},
		{"exactly now rolls over", 17 * time.Hour, time.Date(2026, 3, 11, 17, 0, 0, 0, time.UTC)},
		{"earlier today rolls over", 9 * time.Hour, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"midnight", 0, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextCutoff(now, tt.offset); !got.Equal(tt.want) {
				t.Errorf("nextCutoff = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextDelay(t *testing.T) {
	r, _ := newTestRunner(t, testConfig(), newFakeLedger(), &fakeEvaluator{}, nil)
	now := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	if got := r.nextDelay(time.Minute); got != time.Minute {
		t.Errorf("unarmed delay = %s", got)
	}
	r.cutoff = now.Add(20 * time.Second)
	if got := r.nextDelay(time.Minute); got != 20*time.Second {
		t.Errorf("delay before cutoff = %s", got)
	}
	r.cutoff = now.Add(-time.Second)
	if got := r.nextDelay(time.Minute); got != 0 {
		t.Errorf("delay past cutoff = %s", got)
	}
}
