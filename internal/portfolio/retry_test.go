package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		{"status 429", statusError{429}, KindRateLimited},
		{"message 429", errors.New("request failed: 429"), KindRateLimited},
		{"too many requests", errors.New("Too Many Requests"), KindRateLimited},
		{"status 400", fmt.Errorf("post: %w", statusError{400}), KindRejected},
		{"status 404", statusError{404}, KindRejected},
		{"status 503", statusError{503}, KindTransientNetwork},
		{"unknown", errors.New("connection reset by peer"), KindTransientNetwork},
		{"malformed number", fmt.Errorf("balance: %w", &strconv.NumError{Func: "ParseUint", Num: "1e9", Err: strconv.ErrSyntax}), KindRejected},
		{"kinded", fmt.Errorf("wrap: %w", NewError(KindInsufficientFunds, "buy", errors.New("empty"))), KindInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func testPolicy(s *recordingSleeper) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 15 * time.Second,
		CallTimeout:    time.Second,
		Sleep:          s.Sleep,
	}
}

func TestRetry_SucceedsAfterRateLimit(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	got, err := Retry(context.Background(), testPolicy(sleeper), "op", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", statusError{429}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Errorf("got %q after %d calls", got, calls)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] < 15*time.Second {
		t.Errorf("expected one wait of at least 15s, got %v", sleeper.waits)
	}
}

func TestRetry_BackoffDoubles(t *testing.T) {
	sleeper := &recordingSleeper{}
	_, err := Retry(context.Background(), testPolicy(sleeper), "op", func(ctx context.Context) (int, error) {
		return 0, errors.New("connection refused")
	})

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Kind != KindTransientNetwork || perr.Attempts != 3 || perr.Op != "op" {
		t.Errorf("unexpected error %+v", perr)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", sleeper.waits, want)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}

func TestRetry_DoesNotRetryRejected(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	_, err := Retry(context.Background(), testPolicy(sleeper), "post_order", func(ctx context.Context) (int, error) {
		calls++
		return 0, statusError{400}
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if Classify(err) != KindRejected {
		t.Errorf("expected rejected, got %v", err)
	}
	if sleeper.count() != 0 {
		t.Error("rejected call should not sleep")
	}
}

func TestRetry_PerCallTimeout(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := testPolicy(sleeper)
	policy.MaxAttempts = 2
	policy.CallTimeout = 10 * time.Millisecond

	calls := 0
	_, err := Retry(context.Background(), policy, "slow", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if Classify(err) != KindTimeout {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &recordingSleeper{}
	calls := 0
	_, err := Retry(ctx, testPolicy(sleeper), "op", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// A 429 on the first balance read is retried and the caller sees the value.
func TestRetryingLedger_BalanceRateLimited(t *testing.T) {
	ledger := newFakeLedger()
	ledger.collateralErrs = []error{statusError{429}, nil}
	ledger.collateral = units(25)

	sleeper := &recordingSleeper{}
	cache := NewBalanceCache(NewRetryingLedger(ledger, testPolicy(sleeper)))

	got, err := cache.GetCollateral(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != units(25) {
		t.Errorf("collateral = %s", got)
	}
	if ledger.collCalls != 2 {
		t.Errorf("expected 2 ledger calls, got %d", ledger.collCalls)
	}
	if sleeper.count() != 1 || sleeper.waits[0] < 15*time.Second {
		t.Errorf("expected a single rate-limit wait, got %v", sleeper.waits)
	}
}

func TestRetryingLedger_CancelAll(t *testing.T) {
	ledger := newFakeLedger()
	rl := NewRetryingLedger(ledger, testPolicy(&recordingSleeper{}))
	if err := rl.CancelAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger.eventIndex("cancel_all") != 0 {
		t.Errorf("events = %v", ledger.events)
	}
}

// A balance the exchange returns in an unreadable form fails the same way on
// every attempt, so it must not be retried.
func TestRetryingLedger_MalformedBalanceNotRetried(t *testing.T) {
	for _, raw := range []string{"abc", "-4", "1.2.3"} {
		_, parseErr := ParseBalance(raw)
		if Classify(parseErr) != KindRejected {
			t.Errorf("ParseBalance(%q) classified as %q", raw, Classify(parseErr))
		}

		ledger := newFakeLedger()
		ledger.setBalanceError("X", fmt.Errorf("balance of X: %w", parseErr), nil)
		sleeper := &recordingSleeper{}
		rl := NewRetryingLedger(ledger, testPolicy(sleeper))

		_, err := rl.GetBalance(context.Background(), BalanceQuery{AssetType: AssetTypeConditional, TokenID: "X"})
		if Classify(err) != KindRejected {
			t.Errorf("%q: expected rejected, got %v", raw, err)
		}
		if ledger.balanceCalls["X"] != 1 || sleeper.count() != 0 {
			t.Errorf("%q: expected a single attempt, got %d calls and %d waits", raw, ledger.balanceCalls["X"], sleeper.count())
		}
	}
}
