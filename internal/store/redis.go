package store

import (
	"context"
	"encoding/json"
	"time"

	"polyrotate/internal/portfolio"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// asset lookups. Market writes go to the primary and evict the cached
// tokens. Misses are never cached, so a later sync or backfill is seen at
// once.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.Named("store_cache"),
	}
}

// OpenRedis parses a redis:// URL and returns a client.
func OpenRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

// --- Read-through ---

func (s *CachedStore) LookupAsset(ctx context.Context, assetID string) (*portfolio.AssetInfo, error) {
	data, err := s.rdb.Get(ctx, assetKey(assetID)).Bytes()
	if err == nil {
		var info portfolio.AssetInfo
		if json.Unmarshal(data, &info) == nil {
			return &info, nil
		}
	} else if err != redis.Nil {
		s.logger.Debug("redis get failed", zap.String("asset_id", assetID), zap.Error(err))
	}

	info, err := s.primary.LookupAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(info); err == nil {
		s.rdb.Set(ctx, assetKey(assetID), data, s.ttl)
	}
	return info, nil
}

// --- Write-through ---

func (s *CachedStore) UpsertMarkets(ctx context.Context, markets []Market) error {
	if err := s.primary.UpsertMarkets(ctx, markets); err != nil {
		return err
	}

	var keys []string
	for _, m := range markets {
		for _, t := range m.Tokens {
			keys = append(keys, assetKey(t.TokenID))
		}
	}
	for i := 0; i < len(keys); i += 500 {
		if err := s.rdb.Del(ctx, keys[i:min(i+500, len(keys))]...).Err(); err != nil {
			s.logger.Warn("failed to evict cached assets", zap.Error(err))
		}
	}
	return nil
}

// --- Passthrough ---

func (s *CachedStore) ActiveMarkets(ctx context.Context, f MarketFilter) ([]Market, error) {
	return s.primary.ActiveMarkets(ctx, f)
}

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.primary.Leaderboard(ctx, limit)
}

func (s *CachedStore) UpsertLeaderboard(ctx context.Context, entries []LeaderboardEntry) error {
	return s.primary.UpsertLeaderboard(ctx, entries)
}

func (s *CachedStore) Close() {
	if err := s.rdb.Close(); err != nil {
		s.logger.Warn("failed to close redis client", zap.Error(err))
	}
	s.primary.Close()
}

func assetKey(id string) string { return "polyrotate:asset:" + id }
