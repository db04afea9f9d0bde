package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const balanceAllowancePath = "/balance-allowance"

// AssetType selects which balance the exchange reports.
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"
	AssetTypeConditional AssetType = "CONDITIONAL"
)

// BalanceAllowanceParams filters the balance endpoint. TokenID is required
// for conditional assets.
type BalanceAllowanceParams struct {
	AssetType AssetType
	TokenID   string
}

// BalanceAllowance is the decoded /balance-allowance payload. Balance is a
// base-unit integer string (6 decimals).
type BalanceAllowance struct {
	Balance    decimalString            `json:"balance"`
	Allowances map[string]decimalString `json:"allowances"`
}

func (c *Client) GetBalanceAllowance(ctx context.Context, params BalanceAllowanceParams) (*BalanceAllowance, error) {
	params.TokenID = strings.TrimSpace(params.TokenID)
	if params.AssetType == AssetTypeConditional && params.TokenID == "" {
		return nil, fmt.Errorf("token id required for conditional balance")
	}

	q := url.Values{}
	q.Set("asset_type", string(params.AssetType))
	if params.TokenID != "" {
		q.Set("token_id", params.TokenID)
	}
	q.Set("signature_type", strconv.Itoa(c.signatureTy))

	// L2 signatures cover the bare path; the query is not part of the message.
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not configured")
	}
	ts, err := c.timestampForAuth(ctx)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, balanceAllowancePath, nil)
	if err != nil {
		return nil, err
	}

	var resp BalanceAllowance
	if err := c.doJSON(ctx, http.MethodGet, balanceAllowancePath, q, headers, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BalanceString returns the raw balance, "0" when absent.
func (b *BalanceAllowance) BalanceString() string {
	if b == nil || b.Balance == "" {
		return "0"
	}
	return string(b.Balance)
}
