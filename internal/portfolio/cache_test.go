package portfolio

import (
	"context"
	"errors"
	"testing"
)

func TestBalanceCache_HitAndInvalidate(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.setBalance("A", units(3))
	cache := NewBalanceCache(ledger)

	for i := 0; i < 3; i++ {
		b, err := cache.Get(ctx, "A")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if b != units(3) {
			t.Errorf("Get = %s", b)
		}
	}
	if ledger.balanceCalls["A"] != 1 {
		t.Errorf("expected 1 ledger call, got %d", ledger.balanceCalls["A"])
	}

	ledger.setBalance("A", units(7))
	cache.Invalidate("A")
	b, err := cache.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b != units(7) {
		t.Errorf("after invalidate Get = %s, want 7", b)
	}
	if ledger.balanceCalls["A"] != 2 {
		t.Errorf("expected refetch after invalidate, calls = %d", ledger.balanceCalls["A"])
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 2 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestBalanceCache_InvalidateUnknownAsset(t *testing.T) {
	ledger := newFakeLedger()
	cache := NewBalanceCache(ledger)
	cache.Invalidate("never-read")

	if _, err := cache.Get(context.Background(), "never-read"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ledger.balanceCalls["never-read"] != 1 {
		t.Error("stale sentinel should force a fetch")
	}
}

func TestBalanceCache_Collateral(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.collateral = units(10)
	cache := NewBalanceCache(ledger)

	if b, _ := cache.GetCollateral(ctx); b != units(10) {
		t.Errorf("GetCollateral = %s", b)
	}
	ledger.collateral = units(4)
	if b, _ := cache.GetCollateral(ctx); b != units(10) {
		t.Errorf("cached GetCollateral = %s", b)
	}
	cache.InvalidateCollateral()
	if b, _ := cache.GetCollateral(ctx); b != units(4) {
		t.Errorf("refetched GetCollateral = %s", b)
	}
	if ledger.collCalls != 2 {
		t.Errorf("collateral calls = %d", ledger.collCalls)
	}
}

func TestBalanceCache_ClearAllKeepsTracked(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	cache := NewBalanceCache(ledger)
	cache.SetTracked("OpenAI")

	_, _ = cache.Get(ctx, "A")
	_, _ = cache.GetCollateral(ctx)
	cache.ClearAll()
	_, _ = cache.Get(ctx, "A")
	_, _ = cache.GetCollateral(ctx)

	if ledger.balanceCalls["A"] != 2 || ledger.collCalls != 2 {
		t.Errorf("ClearAll should force refetch: balance=%d collateral=%d", ledger.balanceCalls["A"], ledger.collCalls)
	}
	if cache.Tracked() != "OpenAI" {
		t.Errorf("Tracked() = %q", cache.Tracked())
	}
}

func TestBalanceCache_PropagatesErrors(t *testing.T) {
	ledger := newFakeLedger()
	boom := errors.New("boom")
	ledger.setBalanceError("A", boom)
	cache := NewBalanceCache(ledger)

	if _, err := cache.Get(context.Background(), "A"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := cache.Get(context.Background(), "A"); err != nil {
		t.Fatalf("failed read must not be cached: %v", err)
	}
	if ledger.balanceCalls["A"] != 2 {
		t.Errorf("calls = %d", ledger.balanceCalls["A"])
	}
}
