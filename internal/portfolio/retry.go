package portfolio

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"polyrotate/internal/metrics"

	"go.uber.org/zap"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy bounds retries of a remote call.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxJitter      time.Duration
	CallTimeout    time.Duration
	Sleep          Sleeper
	Logger         *zap.Logger
}

// DefaultRetryPolicy is 4 attempts starting at 1s, 15s floor on rate limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		RateLimitDelay: 15 * time.Second,
		MaxJitter:      time.Second,
		CallTimeout:    20 * time.Second,
	}
}

// Delay returns the wait before the attempt following a failed attempt
// (0-based) of the given kind.
func (p RetryPolicy) Delay(attempt int, kind ErrorKind) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxJitter > 0 {
		d += rand.N(p.MaxJitter)
	}
	if kind == KindRateLimited && d < p.RateLimitDelay {
		d = p.RateLimitDelay
	}
	return d
}

// Retry runs fn until it succeeds, fails with a non-retryable kind, or the
// attempt budget runs out. Each attempt gets its own CallTimeout.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	var lastKind ErrorKind
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		lastKind = Classify(err)
		if !lastKind.Retryable() {
			return zero, &Error{Kind: lastKind, Op: op, Attempts: attempt + 1, Err: err}
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt, lastKind)
		metrics.RetriesTotal.WithLabelValues(op, string(lastKind)).Inc()
		logger.Warn("remote call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.String("kind", string(lastKind)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, &Error{Kind: lastKind, Op: op, Attempts: attempts, Err: lastErr}
}

// RetryingLedger applies a RetryPolicy to every call of an inner Ledger.
type RetryingLedger struct {
	inner Ledger

	mu     sync.RWMutex
	policy RetryPolicy
}

func NewRetryingLedger(inner Ledger, policy RetryPolicy) *RetryingLedger {
	return &RetryingLedger{inner: inner, policy: policy}
}

// SetPolicy replaces the policy for calls started afterwards.
func (l *RetryingLedger) SetPolicy(p RetryPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = p
}

func (l *RetryingLedger) current() RetryPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

func (l *RetryingLedger) GetTrades(ctx context.Context) ([]Trade, error) {
	return Retry(ctx, l.current(), "get_trades", l.inner.GetTrades)
}

func (l *RetryingLedger) GetBalance(ctx context.Context, q BalanceQuery) (Balance, error) {
	return Retry(ctx, l.current(), "get_balance", func(ctx context.Context) (Balance, error) {
		return l.inner.GetBalance(ctx, q)
	})
}

func (l *RetryingLedger) CreateMarketOrder(ctx context.Context, args MarketOrderArgs) (*Order, error) {
	return Retry(ctx, l.current(), "create_order", func(ctx context.Context) (*Order, error) {
		return l.inner.CreateMarketOrder(ctx, args)
	})
}

// PostOrder is retried as well: a resubmitted FOK carries the same signature
// and cannot fill twice.
func (l *RetryingLedger) PostOrder(ctx context.Context, order *Order, orderType OrderType) (OrderResult, error) {
	return Retry(ctx, l.current(), "post_order", func(ctx context.Context) (OrderResult, error) {
		return l.inner.PostOrder(ctx, order, orderType)
	})
}

func (l *RetryingLedger) CancelAll(ctx context.Context) error {
	_, err := Retry(ctx, l.current(), "cancel_all", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.inner.CancelAll(ctx)
	})
	return err
}
