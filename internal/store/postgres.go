package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"polyrotate/internal/portfolio"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS market (
	id                SERIAL PRIMARY KEY,
	condition_id      TEXT NOT NULL,
	question_id       TEXT NOT NULL,
	question          TEXT NOT NULL,
	description       TEXT,
	market_slug       TEXT NOT NULL UNIQUE,
	active            BOOLEAN DEFAULT TRUE,
	closed            BOOLEAN DEFAULT FALSE,
	archived          BOOLEAN DEFAULT FALSE,
	accepting_orders  BOOLEAN DEFAULT TRUE,
	neg_risk          BOOLEAN DEFAULT FALSE,
	minimum_tick_size NUMERIC(10, 6) DEFAULT 0.01,
	end_date_iso      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token (
	id           SERIAL PRIMARY KEY,
	market_id    INTEGER NOT NULL REFERENCES market (id) ON DELETE CASCADE,
	token_id     TEXT,
	outcome      TEXT,
	price        NUMERIC(10, 6) DEFAULT 0,
	winner       BOOLEAN DEFAULT FALSE,
	position_tag TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS token_token_id_idx ON token (token_id);
CREATE INDEX IF NOT EXISTS token_position_tag_idx ON token (lower(position_tag));

CREATE TABLE IF NOT EXISTS market_tag (
	market_id INTEGER NOT NULL REFERENCES market (id) ON DELETE CASCADE,
	tag       TEXT NOT NULL,
	PRIMARY KEY (market_id, tag)
);

CREATE TABLE IF NOT EXISTS llm_leaderboard (
	id              SERIAL PRIMARY KEY,
	rank_ub         INTEGER NOT NULL,
	rank_style_ctrl INTEGER NOT NULL,
	model           TEXT NOT NULL UNIQUE,
	arena_score     NUMERIC(10, 2) NOT NULL,
	ci              TEXT NOT NULL,
	votes           INTEGER NOT NULL,
	organization    TEXT NOT NULL,
	license         TEXT NOT NULL,
	created_at      TIMESTAMPTZ DEFAULT now(),
	updated_at      TIMESTAMPTZ DEFAULT now()
);
`

// PostgresStore implements Store on PostgreSQL.
// Numeric columns are read back as text and parsed with decimal.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger.Named("store")}
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) LookupAsset(ctx context.Context, assetID string) (*portfolio.AssetInfo, error) {
	var info portfolio.AssetInfo
	var tag string

	err := s.pool.QueryRow(ctx,
		`SELECT t.token_id, m.market_slug, m.question, COALESCE(t.outcome, ''),
		        t.position_tag, m.condition_id, COALESCE(m.closed, FALSE), COALESCE(m.neg_risk, FALSE)
		 FROM token t
		 JOIN market m ON m.id = t.market_id
		 WHERE t.token_id = $1
		 ORDER BY m.id DESC
		 LIMIT 1`, assetID).
		Scan(&info.AssetID, &info.MarketSlug, &info.Question, &info.Outcome,
			&tag, &info.ConditionID, &info.Closed, &info.NegRisk)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup asset %s: %w", assetID, portfolio.ErrAssetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup asset %s: %w", assetID, err)
	}

	info.Tag = portfolio.PositionTag(tag)
	return &info, nil
}

func (s *PostgresStore) UpsertMarkets(ctx context.Context, markets []Market) error {
	start := time.Now()
	total := (len(markets) + BatchSize - 1) / BatchSize

	for i := 0; i < len(markets); i += BatchSize {
		batch := markets[i:min(i+BatchSize, len(markets))]
		if err := s.upsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch %d/%d: %w", i/BatchSize+1, total, err)
		}
	}

	s.logger.Info("upserted markets",
		zap.Int("markets", len(markets)),
		zap.Int("batches", total),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *PostgresStore) upsertBatch(ctx context.Context, batch []Market) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids := make([]int64, len(batch))
		for i := range batch {
			m := &batch[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO market (
					condition_id, question_id, question, description, market_slug,
					active, closed, archived, accepting_orders, neg_risk,
					minimum_tick_size, end_date_iso, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::NUMERIC, $12, now())
				ON CONFLICT (market_slug) DO UPDATE SET
					condition_id      = EXCLUDED.condition_id,
					question_id       = EXCLUDED.question_id,
					question          = EXCLUDED.question,
					description       = EXCLUDED.description,
					active            = EXCLUDED.active,
					closed            = EXCLUDED.closed,
					archived          = EXCLUDED.archived,
					accepting_orders  = EXCLUDED.accepting_orders,
					neg_risk          = EXCLUDED.neg_risk,
					minimum_tick_size = EXCLUDED.minimum_tick_size,
					end_date_iso      = EXCLUDED.end_date_iso,
					updated_at        = now()
				RETURNING id`,
				m.ConditionID, m.QuestionID, m.Question, m.Description, m.MarketSlug,
				m.Active, m.Closed, m.Archived, m.AcceptingOrders, m.NegRisk,
				m.MinimumTickSize.String(), m.EndDate,
			).Scan(&ids[i])
			if err != nil {
				return fmt.Errorf("upsert market %s: %w", m.MarketSlug, err)
			}
			m.ID = ids[i]
		}

		if _, err := tx.Exec(ctx, `DELETE FROM token WHERE market_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM market_tag WHERE market_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete tags: %w", err)
		}

		b := &pgx.Batch{}
		for _, m := range batch {
			for _, t := range m.Tokens {
				b.Queue(
					`INSERT INTO token (market_id, token_id, outcome, price, winner, position_tag)
					 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
					m.ID, t.TokenID, t.Outcome, t.Price.String(), t.Winner, string(t.PositionTag),
				)
			}
			for _, tag := range m.Tags {
				b.Queue(
					`INSERT INTO market_tag (market_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
					m.ID, tag,
				)
			}
		}
		if b.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *PostgresStore) ActiveMarkets(ctx context.Context, f MarketFilter) ([]Market, error) {
	where := []string{"m.active = TRUE", "m.closed = FALSE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.QuestionLike != "" {
		where = append(where, "m.question ILIKE "+arg(f.QuestionLike))
	}
	if f.SlugContains != "" {
		where = append(where, "strpos(m.market_slug, "+arg(f.SlugContains)+") > 0")
	}
	if f.TokenTag != portfolio.None {
		where = append(where, "EXISTS (SELECT 1 FROM token t WHERE t.market_id = m.id AND lower(t.position_tag) = lower("+arg(string(f.TokenTag))+"))")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.condition_id, m.question_id, m.question, COALESCE(m.description, ''),
		        m.market_slug, m.active, m.closed, COALESCE(m.archived, FALSE),
		        COALESCE(m.accepting_orders, FALSE), COALESCE(m.neg_risk, FALSE),
		        COALESCE(m.minimum_tick_size, 0)::TEXT, m.end_date_iso
		 FROM market m
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY m.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query active markets: %w", err)
	}
	defer rows.Close()

	var markets []Market
	index := make(map[int64]int)
	for rows.Next() {
		var m Market
		var tick string
		if err := rows.Scan(&m.ID, &m.ConditionID, &m.QuestionID, &m.Question, &m.Description,
			&m.MarketSlug, &m.Active, &m.Closed, &m.Archived,
			&m.AcceptingOrders, &m.NegRisk, &tick, &m.EndDate); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		m.MinimumTickSize, _ = decimal.NewFromString(tick)
		index[m.ID] = len(markets)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}

	tokenRows, err := s.pool.Query(ctx,
		`SELECT market_id, COALESCE(token_id, ''), COALESCE(outcome, ''),
		        COALESCE(price, 0)::TEXT, COALESCE(winner, FALSE), position_tag
		 FROM token
		 WHERE market_id = ANY($1)
		 ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer tokenRows.Close()

	for tokenRows.Next() {
		var marketID int64
		var t Token
		var price, tag string
		if err := tokenRows.Scan(&marketID, &t.TokenID, &t.Outcome, &price, &t.Winner, &tag); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Price, _ = decimal.NewFromString(price)
		t.PositionTag = portfolio.PositionTag(tag)
		if i, ok := index[marketID]; ok {
			markets[i].Tokens = append(markets[i].Tokens, t)
		}
	}
	return markets, tokenRows.Err()
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.pool.Query(ctx,
		`SELECT model, rank_ub, rank_style_ctrl, arena_score::TEXT, ci, votes,
		        organization, license, COALESCE(updated_at, now())
		 FROM llm_leaderboard
		 ORDER BY rank_ub ASC, arena_score DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		var score string
		if err := rows.Scan(&e.Model, &e.RankUB, &e.RankStyleCtrl, &score, &e.CI, &e.Votes,
			&e.Organization, &e.License, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.ArenaScore, _ = decimal.NewFromString(score)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpsertLeaderboard(ctx context.Context, entries []LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, e := range entries {
			b.Queue(
				`INSERT INTO llm_leaderboard (
					rank_ub, rank_style_ctrl, model, arena_score, ci, votes, organization, license
				)
				VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)
				ON CONFLICT (model) DO UPDATE SET
					rank_ub         = EXCLUDED.rank_ub,
					rank_style_ctrl = EXCLUDED.rank_style_ctrl,
					arena_score     = EXCLUDED.arena_score,
					ci              = EXCLUDED.ci,
					votes           = EXCLUDED.votes,
					organization    = EXCLUDED.organization,
					license         = EXCLUDED.license,
					updated_at      = now()`,
				e.RankUB, e.RankStyleCtrl, e.Model, e.ArenaScore.String(), e.CI, e.Votes,
				e.Organization, e.License,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}
