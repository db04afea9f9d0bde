package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"polyrotate/internal/portfolio"
)

// MemoryStore implements Store with in-memory maps. Used for tests and for
// running without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	markets     map[string]*Market // by slug
	tokens      map[string]string  // token id -> slug
	leaderboard map[string]LeaderboardEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*Market),
		tokens:      make(map[string]string),
		leaderboard: make(map[string]LeaderboardEntry),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) LookupAsset(_ context.Context, assetID string) (*portfolio.AssetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slug, ok := s.tokens[assetID]
	if !ok {
		return nil, fmt.Errorf("lookup asset %s: %w", assetID, portfolio.ErrAssetNotFound)
	}
	m := s.markets[slug]
	for _, t := range m.Tokens {
		if t.TokenID == assetID {
			return assetInfo(m, t), nil
		}
	}
	return nil, fmt.Errorf("lookup asset %s: %w", assetID, portfolio.ErrAssetNotFound)
}

func (s *MemoryStore) UpsertMarkets(_ context.Context, markets []Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range markets {
		m := cloneMarket(&markets[i])
		if existing, ok := s.markets[m.MarketSlug]; ok {
			m.ID = existing.ID
			for _, t := range existing.Tokens {
				delete(s.tokens, t.TokenID)
			}
		} else {
			s.nextID++
			m.ID = s.nextID
		}
		markets[i].ID = m.ID

		s.markets[m.MarketSlug] = m
		for _, t := range m.Tokens {
			if t.TokenID != "" {
				s.tokens[t.TokenID] = m.MarketSlug
			}
		}
	}
	return nil
}

func (s *MemoryStore) ActiveMarkets(_ context.Context, f MarketFilter) ([]Market, error) {
	var question *regexp.Regexp
	if f.QuestionLike != "" {
		re, err := likeToRegexp(f.QuestionLike)
		if err != nil {
			return nil, err
		}
		question = re
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Market
	for _, m := range s.markets {
		if !m.Active || m.Closed {
			continue
		}
		if question != nil && !question.MatchString(m.Question) {
			continue
		}
		if f.SlugContains != "" && !strings.Contains(m.MarketSlug, f.SlugContains) {
			continue
		}
		if f.TokenTag != portfolio.None && !hasTag(m, f.TokenTag) {
			continue
		}
		out = append(out, *cloneMarket(m))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RankUB != entries[j].RankUB {
			return entries[i].RankUB < entries[j].RankUB
		}
		if !entries[i].ArenaScore.Equal(entries[j].ArenaScore) {
			return entries[i].ArenaScore.GreaterThan(entries[j].ArenaScore)
		}
		return entries[i].Model < entries[j].Model
	})

	if limit <= 0 {
		limit = 1
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) UpsertLeaderboard(_ context.Context, entries []LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		e.UpdatedAt = now
		s.leaderboard[e.Model] = e
	}
	return nil
}

func hasTag(m *Market, tag portfolio.PositionTag) bool {
	for _, t := range m.Tokens {
		if equalFold(string(t.PositionTag), string(tag)) {
			return true
		}
	}
	return false
}

func cloneMarket(m *Market) *Market {
	c := *m
	c.Tokens = append([]Token(nil), m.Tokens...)
	c.Tags = append([]string(nil), m.Tags...)
	if m.EndDate != nil {
		end := *m.EndDate
		c.EndDate = &end
	}
	return &c
}

// likeToRegexp translates a SQL ILIKE pattern into an anchored,
// case-insensitive regexp.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("question pattern %q: %w", pattern, err)
	}
	return re, nil
}
