package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"polyrotate/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxTokenIDsPerRequest bounds the clob_token_ids filter of one request.
const maxTokenIDsPerRequest = 20

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ---- Gamma API types (minimal; add fields as you need) ----

type GammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	QuestionID   string          `json:"questionID"`
	Description  string          `json:"description"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`

	// Parallel to ClobTokenIDs.
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	// Status
	Active          bool `json:"active"`
	Closed          bool `json:"closed"`
	Archived        bool `json:"archived"`
	AcceptingOrders bool `json:"acceptingOrders"`
	NegRisk         bool `json:"negRisk"`

	EndDate string `json:"endDate"`
}

// Outcome pairs a token id with its outcome label.
type Outcome struct {
	TokenID string
	Label   string
	Price   float64
}

// TokenOutcomes zips the token ids with their outcome labels and prices.
// Missing labels or prices are left empty.
func (m *GammaMarket) TokenOutcomes() []Outcome {
	ids := m.GetTokenIDs()
	labels := m.GetOutcomes()
	prices := m.GetOutcomePrices()

	out := make([]Outcome, 0, len(ids))
	for i, id := range ids {
		o := Outcome{TokenID: id}
		if i < len(labels) {
			o.Label = labels[i]
		}
		if i < len(prices) {
			o.Price = prices[i]
		}
		out = append(out, o)
	}
	return out
}

// GetOutcomes parses the Outcomes field and returns the outcome names.
func (m *GammaMarket) GetOutcomes() []string {
	if len(m.Outcomes) == 0 {
		return nil
	}

	// Try parsing as direct array
	var outcomes []string
	if err := json.Unmarshal(m.Outcomes, &outcomes); err == nil {
		return outcomes
	}

	// Try parsing as JSON string containing an array (e.g., "[\"Yes\", \"No\"]")
	var jsonStr string
	if err := json.Unmarshal(m.Outcomes, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &outcomes); err == nil {
			return outcomes
		}
	}

	return nil
}

// GetOutcomePrices parses the OutcomePrices field and returns prices.
func (m *GammaMarket) GetOutcomePrices() []float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}

	// Helper to parse string array to floats
	parseStrings := func(strs []string) []float64 {
		prices := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &prices[i])
		}
		return prices
	}

	// Try parsing as array of floats
	var prices []float64
	if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
		return prices
	}

	// Try parsing as array of strings (sometimes prices are strings)
	var priceStrs []string
	if err := json.Unmarshal(m.OutcomePrices, &priceStrs); err == nil {
		return parseStrings(priceStrs)
	}

	// Try parsing as JSON string containing an array (e.g., "[\"0\", \"1\"]")
	var jsonStr string
	if err := json.Unmarshal(m.OutcomePrices, &jsonStr); err == nil {
		// Try as float array inside string
		if err := json.Unmarshal([]byte(jsonStr), &prices); err == nil {
			return prices
		}
		// Try as string array inside string
		if err := json.Unmarshal([]byte(jsonStr), &priceStrs); err == nil {
			return parseStrings(priceStrs)
		}
	}

	return nil
}

// GetTokenIDs parses the ClobTokenIDs field and returns the token IDs.
// Returns nil if parsing fails or no token IDs are present.
// Handles multiple Gamma API formats:
// - Direct array: ["token1", "token2"]
// - Array containing JSON string: ["[\"token1\", \"token2\"]"]
// - JSON string: "[\"token1\", \"token2\"]"
func (m *GammaMarket) GetTokenIDs() []string {
	if len(m.ClobTokenIDs) == 0 {
		return nil
	}

	// Try parsing as array of strings directly
	var tokenIDs []string
	if err := json.Unmarshal(m.ClobTokenIDs, &tokenIDs); err == nil && len(tokenIDs) > 0 {
		// Check if elements are themselves JSON arrays (nested encoding)
		// e.g., ["[\"token1\", \"token2\"]"] -> ["token1", "token2"]
		if len(tokenIDs) == 1 && len(tokenIDs[0]) > 0 && tokenIDs[0][0] == '[' {
			var nested []string
			if err := json.Unmarshal([]byte(tokenIDs[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		// Check if ALL elements look like JSON arrays and flatten them
		var flattened []string
		allNested := true
		for _, t := range tokenIDs {
			if len(t) > 0 && t[0] == '[' {
				var nested []string
				if err := json.Unmarshal([]byte(t), &nested); err == nil {
					flattened = append(flattened, nested...)
					continue
				}
			}
			allNested = false
			break
		}
		if allNested && len(flattened) > 0 {
			return flattened
		}
		return tokenIDs
	}

	// Try parsing as a JSON string containing an array
	var jsonStr string
	if err := json.Unmarshal(m.ClobTokenIDs, &jsonStr); err == nil && jsonStr != "" {
		var innerTokenIDs []string
		if err := json.Unmarshal([]byte(jsonStr), &innerTokenIDs); err == nil && len(innerTokenIDs) > 0 {
			return innerTokenIDs
		}
	}

	return nil
}

// GetMarketByConditionID fetches a specific market by its condition ID.
func (c *PolymarketApiClient) GetMarketByConditionID(
	ctx context.Context,
	conditionID string,
) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	q := url.Values{}
	q.Set("condition_ids", conditionID)
	q.Set("limit", "1")

	var markets []GammaMarket
	if err := c.getMarkets(ctx, q, &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	return &markets[0], nil
}

// ConditionClosed reports whether Gamma lists the market for conditionID as
// closed.
func (c *PolymarketApiClient) ConditionClosed(ctx context.Context, conditionID string) (bool, error) {
	m, err := c.GetMarketByConditionID(ctx, conditionID)
	if err != nil {
		return false, err
	}
	return m.Closed, nil
}

// GetMarketsByTokenIDs fetches the markets owning the given CLOB token ids.
// Closed markets are included. Requests are chunked.
func (c *PolymarketApiClient) GetMarketsByTokenIDs(
	ctx context.Context,
	tokenIDs []string,
) ([]GammaMarket, error) {
	var all []GammaMarket
	seen := make(map[string]struct{})

	for start := 0; start < len(tokenIDs); start += maxTokenIDsPerRequest {
		end := min(start+maxTokenIDsPerRequest, len(tokenIDs))

		q := url.Values{}
		for _, id := range tokenIDs[start:end] {
			if id = strings.TrimSpace(id); id != "" {
				q.Add("clob_token_ids", id)
			}
		}
		if len(q) == 0 {
			continue
		}

		var page []GammaMarket
		if err := c.getMarkets(ctx, q, &page); err != nil {
			return nil, fmt.Errorf("get markets by token ids: %w", err)
		}
		for _, m := range page {
			key := m.ConditionID + "|" + m.Slug
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, m)
		}
	}

	c.logger.Debug("fetched gamma markets by token id",
		zap.Int("tokens", len(tokenIDs)),
		zap.Int("markets", len(all)),
	)
	return all, nil
}

func (c *PolymarketApiClient) getMarkets(ctx context.Context, q url.Values, dest any) error {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"
	u.RawQuery = q.Encode()
	return c.doGet(ctx, u.String(), dest)
}

func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
