package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"polyrotate/internal/portfolio"

	"github.com/redis/go-redis/v9"
)

// unreachableRedis returns a client whose every command fails fast.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCachedStore_FallsBackToPrimary(t *testing.T) {
	primary := NewMemoryStore()
	primary.UpsertMarkets(context.Background(), sampleMarkets())
	st := NewCachedStore(primary, unreachableRedis(), time.Minute, nil)
	defer st.Close()

	info, err := st.LookupAsset(context.Background(), "e-yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.MarketSlug != "will-elon-tweet-150-174-times-october-4-11" {
		t.Errorf("unexpected slug: %s", info.MarketSlug)
	}

	_, err = st.LookupAsset(context.Background(), "missing")
	if !errors.Is(err, portfolio.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestCachedStore_WritesReachPrimary(t *testing.T) {
	primary := NewMemoryStore()
	st := NewCachedStore(primary, unreachableRedis(), time.Minute, nil)
	defer st.Close()

	if err := st.UpsertMarkets(context.Background(), sampleMarkets()); err != nil {
		t.Fatalf("eviction failures must not fail the write: %v", err)
	}
	markets, err := st.ActiveMarkets(context.Background(), MarketFilter{TokenTag: "Google"})
	if err != nil || len(markets) != 1 {
		t.Errorf("expected 1 market from primary, got %d (%v)", len(markets), err)
	}
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	if _, err := OpenRedis("not-a-url"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}

func TestAssetKey(t *testing.T) {
	if got := assetKey("123"); got != "polyrotate:asset:123" {
		t.Errorf("unexpected key: %s", got)
	}
}
