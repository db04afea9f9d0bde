// Package redeem claims collateral for positions in resolved markets.
package redeem

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"polyrotate/config"
	"polyrotate/internal/portfolio"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	orderconfig "github.com/polymarket/go-order-utils/pkg/config"
	"go.uber.org/zap"
)

// ErrUnsupportedWallet is returned when positions are held by a proxy or
// Safe wallet rather than the signing key.
var ErrUnsupportedWallet = errors.New("redemption supports only EOA-held positions")

// Redeemer submits a redemption for one condition and returns the tx hash.
type Redeemer interface {
	Redeem(ctx context.Context, conditionID string, negRisk bool, amounts [2]portfolio.Balance) (string, error)
}

// ChainRedeemer signs redemptions from the EOA with go-ethereum.
type ChainRedeemer struct {
	backend   bind.ContractBackend
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	contracts Contracts
	gasLimit  uint64
	logger    *zap.Logger
	closer    func()
}

// NewChainRedeemer builds a redeemer over an existing backend.
func NewChainRedeemer(backend bind.ContractBackend, key *ecdsa.PrivateKey, chainID int64, contracts Contracts, gasLimit uint64, logger *zap.Logger) *ChainRedeemer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainRedeemer{
		backend:   backend,
		key:       key,
		chainID:   big.NewInt(chainID),
		contracts: contracts,
		gasLimit:  gasLimit,
		logger:    logger.Named("redeem"),
		closer:    func() {},
	}
}

// Dial connects to the chain RPC and resolves contract addresses for the
// configured chain. Positions funded by another address are rejected with
// ErrUnsupportedWallet.
func Dial(ctx context.Context, cfg *config.Config, key *ecdsa.PrivateKey, logger *zap.Logger) (*ChainRedeemer, error) {
	signer := crypto.PubkeyToAddress(key.PublicKey)
	if f := strings.TrimSpace(cfg.Exchange.Funder); f != "" && !strings.EqualFold(common.HexToAddress(f).Hex(), signer.Hex()) {
		return nil, fmt.Errorf("funder %s differs from signer %s: %w", f, signer.Hex(), ErrUnsupportedWallet)
	}

	contracts, err := ResolveContracts(cfg.Exchange.ChainID, cfg.Chain.NegRiskAdapter)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}

	r := NewChainRedeemer(client, key, cfg.Exchange.ChainID, contracts, cfg.Chain.GasLimit, logger)
	r.closer = client.Close
	r.logger.Info("redemption enabled",
		zap.String("signer", signer.Hex()),
		zap.String("ctf", contracts.Conditional.Hex()),
		zap.String("neg_risk_adapter", contracts.NegRiskAdapter.Hex()),
	)
	return r, nil
}

// ResolveContracts looks up the exchange contracts of a chain and applies
// the configured neg-risk adapter.
func ResolveContracts(chainID int64, negRiskAdapter string) (Contracts, error) {
	oc, err := orderconfig.GetContracts(chainID)
	if err != nil {
		return Contracts{}, fmt.Errorf("contracts for chain %d: %w", chainID, err)
	}
	c := Contracts{
		Collateral:  oc.Collateral,
		Conditional: oc.Conditional,
	}
	if negRiskAdapter != "" {
		if !common.IsHexAddress(negRiskAdapter) {
			return Contracts{}, fmt.Errorf("invalid neg risk adapter address %q", negRiskAdapter)
		}
		c.NegRiskAdapter = common.HexToAddress(negRiskAdapter)
	}
	return c, nil
}

func (r *ChainRedeemer) Redeem(ctx context.Context, conditionID string, negRisk bool, amounts [2]portfolio.Balance) (string, error) {
	call, err := BuildCall(r.contracts, conditionID, negRisk, amounts)
	if err != nil {
		return "", portfolio.NewError(portfolio.KindRejected, "redeem", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(r.key, r.chainID)
	if err != nil {
		return "", fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	if r.gasLimit > 0 {
		opts.GasLimit = r.gasLimit
	}

	contract := bind.NewBoundContract(call.To, call.ABI, r.backend, r.backend, r.backend)
	tx, err := contract.Transact(opts, call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("redeem %s: %w", conditionID, err)
	}

	r.logger.Info("redemption submitted",
		zap.String("condition_id", conditionID),
		zap.Bool("neg_risk", negRisk),
		zap.String("to", call.To.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return tx.Hash().Hex(), nil
}

func (r *ChainRedeemer) Close() { r.closer() }
