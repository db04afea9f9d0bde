package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// EndCursor marks the last page of a cursor-paginated CLOB listing.
const (
	InitialCursor = "MA=="
	EndCursor     = "LTE="
)

// MakerOrder is a maker fragment of a trade.
type MakerOrder struct {
	OrderID       string `json:"order_id"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"`
	Outcome       string `json:"outcome"`
}

// Trade mirrors the /data/trades payload.
type Trade struct {
	ID           string       `json:"id"`
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Side         string       `json:"side"`
	Size         string       `json:"size"`
	Price        string       `json:"price"`
	Status       string       `json:"status"`
	Outcome      string       `json:"outcome"`
	TraderSide   string       `json:"trader_side"`
	MatchTime    string       `json:"match_time"`
	Type         string       `json:"type"`
	TakerOrderID string       `json:"taker_order_id"`
	MakerOrders  []MakerOrder `json:"maker_orders"`
}

type tradesPage struct {
	Data       []Trade `json:"data"`
	NextCursor string  `json:"next_cursor"`
}

// TradeParams holds optional filters for GetTrades.
type TradeParams struct {
	ID     string
	Taker  string
	Maker  string
	Market string
	Before string
	After  string
}

func (p TradeParams) values() url.Values {
	q := url.Values{}
	for k, v := range map[string]string{
		"id": p.ID, "taker": p.Taker, "maker": p.Maker,
		"market": p.Market, "before": p.Before, "after": p.After,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// GetTrades fetches the full trade history matching params, following
// next_cursor until the end marker.
func (c *Client) GetTrades(ctx context.Context, params TradeParams) ([]Trade, error) {
	var all []Trade
	cursor := InitialCursor
	for page := 0; cursor != EndCursor && cursor != ""; page++ {
		q := params.values()
		if page > 0 {
			q.Set("next_cursor", cursor)
		}
		path := "/data/trades"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var raw json.RawMessage
		if err := c.authed(ctx, http.MethodGet, path, nil, &raw); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			break
		}
		// Older deployments answer with a bare array.
		if raw[0] == '[' {
			var trades []Trade
			if err := json.Unmarshal(raw, &trades); err != nil {
				return nil, fmt.Errorf("decode trades: %w", err)
			}
			return append(all, trades...), nil
		}
		var p tradesPage
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode trades page: %w", err)
		}
		all = append(all, p.Data...)
		cursor = p.NextCursor
	}
	return all, nil
}

// CancelResponse mirrors the cancel endpoints' payload.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

type cancelOrderReq struct {
	OrderID string `json:"orderID"`
}

// CancelOrder cancels a single order by ID/hash.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*CancelResponse, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}
	body, err := json.Marshal(cancelOrderReq{OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("marshal cancel order: %w", err)
	}
	var resp CancelResponse
	if err := c.authed(ctx, http.MethodDelete, "/order", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAll cancels every open order owned by the API key.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.authed(ctx, http.MethodDelete, "/cancel-all", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
