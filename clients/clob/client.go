package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultHost = "https://clob.polymarket.com"

	// PolygonChainID is the chain the exchange settles on.
	PolygonChainID int64 = 137
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTD OrderType = "GTD"
	OrderTypeFAK OrderType = "FAK"
)

// Signature types accepted by the exchange.
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

type ApiKeyCreds struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type apiKeyRaw struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// APIError is returned for any non-2xx response from the CLOB.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clob %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatus exposes the response status for error classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type OrderBookSummary struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Bids      []OrderSummary `json:"bids"`
	Asks      []OrderSummary `json:"asks"`
	MinOrder  string         `json:"min_order_size"`
	TickSize  string         `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
	Hash      string         `json:"hash"`
}

type OrderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// decimalString accepts both quoted and bare JSON numbers.
type decimalString string

func (d *decimalString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalString(canonicalDecimalString(s))
		return nil
	}
	*d = decimalString(canonicalDecimalString(string(b)))
	return nil
}

func canonicalDecimalString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if whole, frac, ok := strings.Cut(s, "."); ok {
		frac = strings.TrimRight(frac, "0")
		if frac == "" {
			return whole
		}
		return whole + "." + frac
	}
	return s
}

type tickSizeResp struct {
	MinimumTickSize decimalString `json:"minimum_tick_size"`
}

type feeRateResp struct {
	BaseFee int `json:"base_fee"`
}

type negRiskResp struct {
	NegRisk bool `json:"neg_risk"`
}

// Client talks to the Polymarket CLOB REST API.
type Client struct {
	host          string
	httpClient    *http.Client
	chainID       int64
	privateKey    *ecdsa.PrivateKey
	signer        common.Address
	funder        common.Address
	signatureTy   int
	useServerTime bool

	mu       sync.RWMutex
	creds    *ApiKeyCreds
	tickSize map[string]string
	feeRate  map[string]int
	negRisk  map[string]bool
}

// Options configures a Client.
type Options struct {
	Host          string
	ChainID       int64
	PrivateKey    *ecdsa.PrivateKey
	Funder        common.Address
	SignatureType int
	UseServerTime bool
	Timeout       time.Duration
}

func NewClient(opts Options) (*Client, error) {
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("clob host must be http(s), got %q", host)
	}
	if opts.PrivateKey == nil {
		return nil, fmt.Errorf("private key required")
	}
	chainID := opts.ChainID
	if chainID == 0 {
		chainID = PolygonChainID
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	signer := crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
	funder := opts.Funder
	if (funder == common.Address{}) {
		funder = signer
	}

	return &Client{
		host:          host,
		httpClient:    &http.Client{Timeout: timeout},
		chainID:       chainID,
		privateKey:    opts.PrivateKey,
		signer:        signer,
		funder:        funder,
		signatureTy:   opts.SignatureType,
		useServerTime: opts.UseServerTime,
		tickSize:      make(map[string]string),
		feeRate:       make(map[string]int),
		negRisk:       make(map[string]bool),
	}, nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key required")
	}
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func (c *Client) SignerAddress() common.Address { return c.signer }
func (c *Client) FunderAddress() common.Address { return c.funder }
func (c *Client) ChainID() int64                { return c.chainID }
func (c *Client) SignatureType() int            { return c.signatureTy }
func (c *Client) PrivateKey() *ecdsa.PrivateKey { return c.privateKey }

func (c *Client) SetApiCreds(creds ApiKeyCreds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = &creds
}

func (c *Client) HasApiCreds() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds != nil && c.creds.Key != "" && c.creds.Secret != "" && c.creds.Passphrase != ""
}

func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	var ts int64
	if err := c.doJSON(ctx, http.MethodGet, "/time", nil, nil, nil, &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

func (c *Client) GetTickSize(ctx context.Context, tokenID string) (string, error) {
	c.mu.RLock()
	if v, ok := c.tickSize[tokenID]; ok && v != "" {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	params := url.Values{"token_id": []string{tokenID}}
	var resp tickSizeResp
	if err := c.doJSON(ctx, http.MethodGet, "/tick-size", params, nil, nil, &resp); err != nil {
		return "", err
	}
	tickSize := string(resp.MinimumTickSize)
	if tickSize == "" {
		return "", fmt.Errorf("tick size missing in response")
	}

	c.mu.Lock()
	c.tickSize[tokenID] = tickSize
	c.mu.Unlock()
	return tickSize, nil
}

func (c *Client) GetFeeRateBps(ctx context.Context, tokenID string) (int, error) {
	c.mu.RLock()
	if v, ok := c.feeRate[tokenID]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	params := url.Values{"token_id": []string{tokenID}}
	var resp feeRateResp
	if err := c.doJSON(ctx, http.MethodGet, "/fee-rate", params, nil, nil, &resp); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.feeRate[tokenID] = resp.BaseFee
	c.mu.Unlock()
	return resp.BaseFee, nil
}

func (c *Client) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	c.mu.RLock()
	if v, ok := c.negRisk[tokenID]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	params := url.Values{"token_id": []string{tokenID}}
	var resp negRiskResp
	if err := c.doJSON(ctx, http.MethodGet, "/neg-risk", params, nil, nil, &resp); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.negRisk[tokenID] = resp.NegRisk
	c.mu.Unlock()
	return resp.NegRisk, nil
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*OrderBookSummary, error) {
	params := url.Values{"token_id": []string{tokenID}}
	var book OrderBookSummary
	if err := c.doJSON(ctx, http.MethodGet, "/book", params, nil, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// CreateOrDeriveApiKey derives first to avoid NONCE_ALREADY_USED failures on create.
func (c *Client) CreateOrDeriveApiKey(ctx context.Context, nonce uint64) (ApiKeyCreds, error) {
	if creds, err := c.DeriveApiKey(ctx, nonce); err == nil && creds.Key != "" {
		return creds, nil
	}
	return c.CreateApiKey(ctx, nonce)
}

func (c *Client) CreateApiKey(ctx context.Context, nonce uint64) (ApiKeyCreds, error) {
	return c.apiKeyRequest(ctx, http.MethodPost, "/auth/api-key", nonce)
}

func (c *Client) DeriveApiKey(ctx context.Context, nonce uint64) (ApiKeyCreds, error) {
	return c.apiKeyRequest(ctx, http.MethodGet, "/auth/derive-api-key", nonce)
}

func (c *Client) apiKeyRequest(ctx context.Context, method, path string, nonce uint64) (ApiKeyCreds, error) {
	ts, err := c.timestampForAuth(ctx)
	if err != nil {
		return ApiKeyCreds{}, err
	}
	headers, err := c.l1Headers(ts, nonce)
	if err != nil {
		return ApiKeyCreds{}, err
	}

	var resp apiKeyRaw
	if err := c.doJSON(ctx, method, path, nil, headers, nil, &resp); err != nil {
		return ApiKeyCreds{}, err
	}
	return ApiKeyCreds{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}, nil
}

func (c *Client) timestampForAuth(ctx context.Context) (int64, error) {
	if !c.useServerTime {
		return time.Now().Unix(), nil
	}
	return c.GetServerTime(ctx)
}

func (c *Client) l1Headers(timestamp int64, nonce uint64) (http.Header, error) {
	sig, err := buildClobEip712Signature(c.privateKey, c.signer, c.chainID, timestamp, nonce)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("POLY_ADDRESS", c.signer.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	h.Set("POLY_NONCE", strconv.FormatUint(nonce, 10))
	return h, nil
}

func (c *Client) l2Headers(timestamp int64, method, requestPath string, body []byte) (http.Header, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if creds == nil {
		return nil, fmt.Errorf("api creds not set")
	}
	sig, err := buildPolyHmacSignature(creds.Secret, timestamp, method, requestPath, body)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("POLY_ADDRESS", c.signer.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	h.Set("POLY_API_KEY", creds.Key)
	h.Set("POLY_PASSPHRASE", creds.Passphrase)
	return h, nil
}

// authed signs requestPath with L2 headers and performs the request.
func (c *Client) authed(ctx context.Context, method, requestPath string, body []byte, out any) error {
	if !c.HasApiCreds() {
		return fmt.Errorf("api creds not configured")
	}
	ts, err := c.timestampForAuth(ctx)
	if err != nil {
		return err
	}
	headers, err := c.l2Headers(ts, method, requestPath, body)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, method, requestPath, nil, headers, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}
