package portfolio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// BalanceDecimals is the fixed-point precision of collateral and outcome
// token balances.
const BalanceDecimals = 6

// Balance is an exchange quantity in base units (1 unit = 10^-6).
type Balance uint64

// OneUnit is one whole token or one dollar of collateral.
const OneUnit Balance = 1_000_000

// ParseBalance parses the exchange's base-unit string. A fractional string
// ("1.5") is treated as whole units and scaled. Malformed input is rejected,
// never retried.
func ParseBalance(s string) (Balance, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "-") {
		return 0, NewError(KindRejected, "parse_balance", fmt.Errorf("negative balance %q", s))
	}
	if !strings.Contains(s, ".") {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, NewError(KindRejected, "parse_balance", err)
		}
		return Balance(v), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, NewError(KindRejected, "parse_balance", fmt.Errorf("%q: %w", s, err))
	}
	return BalanceFromDecimal(d), nil
}

// BalanceFromDecimal converts whole units to base units, truncating
// anything below 10^-6.
func BalanceFromDecimal(d decimal.Decimal) Balance {
	if d.Sign() <= 0 {
		return 0
	}
	return Balance(d.Shift(BalanceDecimals).Truncate(0).IntPart())
}

// Decimal returns the balance in whole units.
func (b Balance) Decimal() decimal.Decimal {
	return decimal.New(int64(b), -BalanceDecimals)
}

func (b Balance) String() string {
	return b.Decimal().StringFixed(BalanceDecimals)
}
