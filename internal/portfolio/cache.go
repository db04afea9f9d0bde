package portfolio

import (
	"context"
	"sync"

	"polyrotate/internal/metrics"
)

type cacheEntry struct {
	balance Balance
	stale   bool
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// BalanceCache memoises ledger balances for one bot instance. Entries are
// marked stale after any order that touches them and refetched on the next
// read. Ledger errors are returned as-is.
type BalanceCache struct {
	ledger Ledger

	mu         sync.Mutex
	entries    map[string]cacheEntry
	collateral *cacheEntry
	tracked    PositionTag
	hits       int64
	misses     int64
}

func NewBalanceCache(ledger Ledger) *BalanceCache {
	return &BalanceCache{
		ledger:  ledger,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the conditional token balance of assetID.
func (c *BalanceCache) Get(ctx context.Context, assetID string) (Balance, error) {
	c.mu.Lock()
	if e, ok := c.entries[assetID]; ok && !e.stale {
		c.hits++
		c.mu.Unlock()
		metrics.BalanceCacheLookups.WithLabelValues("hit").Inc()
		return e.balance, nil
	}
	c.misses++
	c.mu.Unlock()
	metrics.BalanceCacheLookups.WithLabelValues("miss").Inc()

	b, err := c.ledger.GetBalance(ctx, BalanceQuery{AssetType: AssetTypeConditional, TokenID: assetID})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.entries[assetID] = cacheEntry{balance: b}
	c.mu.Unlock()
	return b, nil
}

// Invalidate marks assetID stale.
func (c *BalanceCache) Invalidate(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[assetID]; ok {
		e.stale = true
		c.entries[assetID] = e
		return
	}
	c.entries[assetID] = cacheEntry{stale: true}
}

// GetCollateral returns the collateral balance.
func (c *BalanceCache) GetCollateral(ctx context.Context) (Balance, error) {
	c.mu.Lock()
	if c.collateral != nil && !c.collateral.stale {
		b := c.collateral.balance
		c.hits++
		c.mu.Unlock()
		metrics.BalanceCacheLookups.WithLabelValues("hit").Inc()
		return b, nil
	}
	c.misses++
	c.mu.Unlock()
	metrics.BalanceCacheLookups.WithLabelValues("miss").Inc()

	b, err := c.ledger.GetBalance(ctx, BalanceQuery{AssetType: AssetTypeCollateral})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.collateral = &cacheEntry{balance: b}
	c.mu.Unlock()
	return b, nil
}

func (c *BalanceCache) InvalidateCollateral() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collateral != nil {
		c.collateral.stale = true
	}
}

// ClearAll drops every cached balance. The tracked tag is kept.
func (c *BalanceCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.collateral = nil
}

func (c *BalanceCache) Tracked() PositionTag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}

func (c *BalanceCache) SetTracked(tag PositionTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = tag
}

func (c *BalanceCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}
