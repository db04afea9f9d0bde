package redeem

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"polyrotate/internal/portfolio"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const ctfABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"indexSets","type":"uint256[]"}
  ],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const negRiskAdapterABIJSON = `[
  {"inputs":[
    {"internalType":"bytes32","name":"_conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"_amounts","type":"uint256[]"}
  ],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ctfABI            = mustABI(ctfABIJSON)
	negRiskAdapterABI = mustABI(negRiskAdapterABIJSON)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Contracts are the on-chain addresses a redemption may target.
type Contracts struct {
	Collateral     common.Address
	Conditional    common.Address
	NegRiskAdapter common.Address
}

// Call is a contract invocation ready to be signed.
type Call struct {
	To     common.Address
	ABI    abi.ABI
	Method string
	Args   []any
}

// Data returns the ABI-encoded calldata.
func (c Call) Data() ([]byte, error) {
	return c.ABI.Pack(c.Method, c.Args...)
}

// BuildCall selects the redemption call for a resolved condition.
// Neg-risk markets redeem through the adapter with the held [yes, no]
// amounts; others redeem both index sets on the conditional tokens
// contract against the collateral.
func BuildCall(contracts Contracts, conditionID string, negRisk bool, amounts [2]portfolio.Balance) (Call, error) {
	cond, err := ParseConditionID(conditionID)
	if err != nil {
		return Call{}, err
	}

	if negRisk {
		if contracts.NegRiskAdapter == (common.Address{}) {
			return Call{}, errors.New("neg risk adapter address missing")
		}
		return Call{
			To:     contracts.NegRiskAdapter,
			ABI:    negRiskAdapterABI,
			Method: "redeemPositions",
			Args: []any{
				[32]byte(cond),
				[]*big.Int{
					new(big.Int).SetUint64(uint64(amounts[0])),
					new(big.Int).SetUint64(uint64(amounts[1])),
				},
			},
		}, nil
	}

	if contracts.Conditional == (common.Address{}) || contracts.Collateral == (common.Address{}) {
		return Call{}, errors.New("conditional tokens or collateral address missing")
	}
	return Call{
		To:     contracts.Conditional,
		ABI:    ctfABI,
		Method: "redeemPositions",
		Args: []any{
			contracts.Collateral,
			[32]byte{},
			[32]byte(cond),
			[]*big.Int{big.NewInt(1), big.NewInt(2)},
		},
	}, nil
}

// ParseConditionID validates a 0x-prefixed 32-byte hex condition id.
func ParseConditionID(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Hash{}, errors.New("empty condition id")
	}
	if !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("condition id missing 0x prefix: %q", s)
	}
	hexStr := strings.TrimPrefix(s, "0x")
	if len(hexStr) != 64 {
		return common.Hash{}, fmt.Errorf("condition id length %d", len(hexStr))
	}
	if _, err := hex.DecodeString(hexStr); err != nil {
		return common.Hash{}, fmt.Errorf("condition id hex: %w", err)
	}
	return common.HexToHash(s), nil
}
