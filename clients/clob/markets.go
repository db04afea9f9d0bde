package clob

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// MarketToken is one outcome token of a market.
type MarketToken struct {
	TokenID string          `json:"token_id"`
	Outcome string          `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
	Winner  bool            `json:"winner"`
}

// Market mirrors an entry of the /markets listing.
type Market struct {
	ConditionID     string          `json:"condition_id"`
	QuestionID      string          `json:"question_id"`
	Question        string          `json:"question"`
	Description     string          `json:"description"`
	MarketSlug      string          `json:"market_slug"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	Archived        bool            `json:"archived"`
	AcceptingOrders bool            `json:"accepting_orders"`
	NegRisk         bool            `json:"neg_risk"`
	EndDateISO      string          `json:"end_date_iso"`
	MinimumTickSize decimal.Decimal `json:"minimum_tick_size"`
	Tokens          []MarketToken   `json:"tokens"`
	Tags            []string        `json:"tags"`
}

// MarketsPage is one page of the /markets listing.
type MarketsPage struct {
	Limit      int      `json:"limit"`
	Count      int      `json:"count"`
	NextCursor string   `json:"next_cursor"`
	Data       []Market `json:"data"`
}

// GetMarkets fetches one page starting at cursor. An empty cursor means the
// first page.
func (c *Client) GetMarkets(ctx context.Context, cursor string) (*MarketsPage, error) {
	if cursor == "" {
		cursor = InitialCursor
	}
	params := url.Values{"next_cursor": []string{cursor}}
	var page MarketsPage
	if err := c.doJSON(ctx, http.MethodGet, "/markets", params, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
