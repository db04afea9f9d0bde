package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"polyrotate/clients/clob"
	"polyrotate/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakePager struct {
	pages   map[string]*clob.MarketsPage
	errAt   string
	cursors []string
}

func (f *fakePager) GetMarkets(_ context.Context, cursor string) (*clob.MarketsPage, error) {
	f.cursors = append(f.cursors, cursor)
	if cursor == f.errAt {
		return nil, &clob.APIError{Method: "GET", Path: "/markets", StatusCode: 500, Body: "boom"}
	}
	page, ok := f.pages[cursor]
	if !ok {
		return &clob.MarketsPage{NextCursor: clob.EndCursor}, nil
	}
	return page, nil
}

func twoPages() *fakePager {
	return &fakePager{pages: map[string]*clob.MarketsPage{
		clob.InitialCursor: {
			NextCursor: "MTAwMA==",
			Data: []clob.Market{
				{
					ConditionID: "0xc1",
					Question:    "Will Anthropic have the best AI model end of June?",
					MarketSlug:  "anthropic-best-ai-june",
					Active:      true,
					EndDateISO:  "2025-06-30T00:00:00Z",
					Tokens: []clob.MarketToken{
						{TokenID: "a-yes", Outcome: "Yes", Price: decimal.RequireFromString("0.42")},
						{TokenID: "a-no", Outcome: "No", Price: decimal.RequireFromString("0.58")},
					},
					Tags: []string{"AI"},
				},
				{MarketSlug: ""},
			},
		},
		"MTAwMA==": {
			NextCursor: clob.EndCursor,
			Data: []clob.Market{
				{
					ConditionID: "0xc2",
					Question:    "Bitcoin Up or Down on June 1?",
					MarketSlug:  "bitcoin-up-or-down-june-1",
					Active:      true,
					Tokens: []clob.MarketToken{
						{TokenID: "b-up", Outcome: "Up"},
						{TokenID: "b-down", Outcome: "Down"},
					},
				},
			},
		},
	}}
}

func TestSyncer_Sync(t *testing.T) {
	st := NewMemoryStore()
	rule, _ := NewTagRule(`(?i)^will (.+?) have the best ai model`)
	pager := twoPages()
	syncer := NewSyncer(pager, st, rule, zap.NewNop())

	n, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 markets written, got %d", n)
	}
	if len(pager.cursors) != 2 || pager.cursors[0] != clob.InitialCursor {
		t.Errorf("unexpected cursors: %v", pager.cursors)
	}

	tests := []struct {
		asset string
		tag   portfolio.PositionTag
	}{
		{"a-yes", "Anthropic"},
		{"a-no", portfolio.None},
		{"b-up", "UP"},
		{"b-down", "DOWN"},
	}
	for _, tt := range tests {
		info, err := st.LookupAsset(context.Background(), tt.asset)
		if err != nil {
			t.Fatalf("lookup %s: %v", tt.asset, err)
		}
		if info.Tag != tt.tag {
			t.Errorf("%s: expected tag %q, got %q", tt.asset, tt.tag, info.Tag)
		}
	}

	markets, _ := st.ActiveMarkets(context.Background(), MarketFilter{SlugContains: "anthropic"})
	if len(markets) != 1 || markets[0].EndDate == nil || markets[0].EndDate.Month() != time.June {
		t.Errorf("expected end date to be parsed, got %+v", markets)
	}
	if syncer.LastSync().IsZero() {
		t.Error("expected last sync to be recorded")
	}
}

func TestSyncer_PageError(t *testing.T) {
	st := NewMemoryStore()
	pager := twoPages()
	pager.errAt = "MTAwMA=="
	syncer := NewSyncer(pager, st, nil, nil)

	n, err := syncer.Sync(context.Background())
	var apiErr *clob.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected first page to be kept, got %d", n)
	}
	if _, err := st.LookupAsset(context.Background(), "a-yes"); err != nil {
		t.Errorf("expected first page market to be stored: %v", err)
	}
	if !syncer.LastSync().IsZero() {
		t.Error("expected failed sync not to be recorded")
	}
}

func TestSyncer_Due(t *testing.T) {
	syncer := NewSyncer(twoPages(), NewMemoryStore(), nil, nil)
	now := time.Now()

	if syncer.Due(now.Add(24*time.Hour), 0) {
		t.Error("expected zero interval to disable periodic sync")
	}
	if syncer.Due(now, time.Hour) {
		t.Error("expected first periodic sync to wait one interval from creation")
	}
	if !syncer.Due(now.Add(2*time.Hour), time.Hour) {
		t.Error("expected sync to be due one interval after creation")
	}

	syncer.Sync(context.Background())
	if syncer.Due(time.Now(), time.Hour) {
		t.Error("expected sync not to be due right after a run")
	}
	if !syncer.Due(time.Now().Add(2*time.Hour), time.Hour) {
		t.Error("expected sync to be due after the interval")
	}
}

func TestSyncer_FailedAttemptResetsSchedule(t *testing.T) {
	pager := twoPages()
	pager.errAt = clob.InitialCursor
	syncer := NewSyncer(pager, NewMemoryStore(), nil, nil)

	if _, err := syncer.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if syncer.Due(time.Now(), time.Hour) {
		t.Error("expected failed attempt to delay the next sync")
	}
	if !syncer.LastSync().IsZero() {
		t.Error("expected failed sync not to be recorded as complete")
	}
}
