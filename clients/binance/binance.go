package binance

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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BinanceClient reads spot prices from the public Binance REST API.
type BinanceClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	symbol     string
}

func NewBinanceClient(logger *zap.Logger, cfg *config.Config) *BinanceClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BinanceClient{
		logger: logger.Named("binance"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.Signals.BTC.BinanceURL, "/"),
		symbol:  strings.ToUpper(cfg.Signals.BTC.Symbol),
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("binance status=%d body=%s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Symbol returns the configured ticker symbol.
func (c *BinanceClient) Symbol() string { return c.symbol }

// GetPrice returns the last traded price of the configured symbol.
func (c *BinanceClient) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", c.symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/ticker/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return decimal.Zero, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Zero, fmt.Errorf("decode json: %w", err)
	}

	price, err := decimal.NewFromString(tp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", tp.Price, err)
	}

	c.logger.Debug("fetched price", zap.String("symbol", c.symbol), zap.String("price", price.String()))
	return price, nil
}
