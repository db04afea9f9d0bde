package store

import (
	"context"
	"fmt"
	"time"

	"polyrotate/clients/clob"
	"polyrotate/internal/metrics"

	"go.uber.org/zap"
)

// MarketPager lists CLOB markets one cursor page at a time.
type MarketPager interface {
	GetMarkets(ctx context.Context, cursor string) (*clob.MarketsPage, error)
}

// Syncer copies the CLOB market listing into the store.
type Syncer struct {
	pager  MarketPager
	store  Store
	rule   *TagRule
	logger *zap.Logger

	created     time.Time
	lastAttempt time.Time
	lastSync    time.Time
}

func NewSyncer(pager MarketPager, store Store, rule *TagRule, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		pager:   pager,
		store:   store,
		rule:    rule,
		logger:  logger.Named("syncer"),
		created: time.Now(),
	}
}

// Sync pages the listing from the first cursor to the end marker and
// upserts each page. It returns the number of markets written. A failed
// page stops the sync; pages already written stay written.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	s.lastAttempt = start
	cursor := clob.InitialCursor
	written := 0

	for page := 1; cursor != clob.EndCursor && cursor != ""; page++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		resp, err := s.pager.GetMarkets(ctx, cursor)
		if err != nil {
			return written, fmt.Errorf("fetch markets page %d: %w", page, err)
		}

		markets := make([]Market, 0, len(resp.Data))
		for _, cm := range resp.Data {
			if cm.MarketSlug == "" {
				continue
			}
			markets = append(markets, FromCLOB(cm, s.rule))
		}
		if err := s.store.UpsertMarkets(ctx, markets); err != nil {
			return written, fmt.Errorf("store markets page %d: %w", page, err)
		}

		written += len(markets)
		metrics.MarketsSynced.Add(float64(len(markets)))
		s.logger.Debug("synced markets page",
			zap.Int("page", page),
			zap.Int("markets", len(markets)),
			zap.String("next_cursor", resp.NextCursor),
		)

		if resp.NextCursor == cursor {
			break
		}
		cursor = resp.NextCursor
	}

	s.lastSync = time.Now()
	s.logger.Info("market sync complete",
		zap.Int("markets", written),
		zap.Duration("took", time.Since(start)),
	)
	return written, nil
}

// Due reports whether interval has elapsed since the last sync attempt, or
// since the syncer was created when none was made. Failed attempts count so
// an unreachable listing is not hammered. A zero interval disables periodic
// syncs.
func (s *Syncer) Due(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	since := s.lastAttempt
	if since.IsZero() {
		since = s.created
	}
	return now.Sub(since) >= interval
}

// LastSync returns the time of the last completed sync.
func (s *Syncer) LastSync() time.Time { return s.lastSync }

// FromCLOB converts a CLOB listing entry and tags its tokens.
func FromCLOB(cm clob.Market, rule *TagRule) Market {
	m := Market{
		ConditionID:     cm.ConditionID,
		QuestionID:      cm.QuestionID,
		Question:        cm.Question,
		Description:     cm.Description,
		MarketSlug:      cm.MarketSlug,
		Active:          cm.Active,
		Closed:          cm.Closed,
		Archived:        cm.Archived,
		AcceptingOrders: cm.AcceptingOrders,
		NegRisk:         cm.NegRisk,
		MinimumTickSize: cm.MinimumTickSize,
		EndDate:         parseTime(cm.EndDateISO),
		Tags:            append([]string(nil), cm.Tags...),
	}
	for _, t := range cm.Tokens {
		m.Tokens = append(m.Tokens, Token{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
			Winner:  t.Winner,
		})
	}
	rule.Apply(&m)
	return m
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
