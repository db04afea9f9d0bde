package redeem

import (
	"context"
	"strings"
	"sync"
	"time"

	"polyrotate/clients/notifier"
	"polyrotate/internal/metrics"
	"polyrotate/internal/portfolio"

	"go.uber.org/zap"
)

// MinRedeemBalance is the smallest balance worth redeeming (0.001 shares).
const MinRedeemBalance portfolio.Balance = 1000

// DefaultCooldown keeps a submitted condition from being resubmitted while
// its transaction is pending and balances still show the position.
const DefaultCooldown = 10 * time.Minute

// BalanceReader is the balance cache as seen by the checker.
type BalanceReader interface {
	Get(ctx context.Context, assetID string) (portfolio.Balance, error)
	Invalidate(assetID string)
}

// ResolutionSource confirms with the market's source of record that a
// condition has closed before any transaction is sent for it.
type ResolutionSource interface {
	ConditionClosed(ctx context.Context, conditionID string) (bool, error)
}

// Checker finds held positions in resolved markets and redeems them.
type Checker struct {
	lookup   portfolio.MetadataLookup
	balances BalanceReader
	redeemer Redeemer
	notifier notifier.Notifier
	source   ResolutionSource
	botName  string
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	submitted map[string]time.Time
	confirmed map[string]struct{}
}

func NewChecker(lookup portfolio.MetadataLookup, balances BalanceReader, redeemer Redeemer, n notifier.Notifier, botName string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		lookup:    lookup,
		balances:  balances,
		redeemer:  redeemer,
		notifier:  n,
		botName:   botName,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		logger:    logger.Named("redeem_check"),
		submitted: make(map[string]time.Time),
		confirmed: make(map[string]struct{}),
	}
}

// SetResolutionSource makes every redemption wait for src to report the
// condition closed. A closed condition is only asked about once.
func (c *Checker) SetResolutionSource(src ResolutionSource) {
	c.source = src
}

type redemption struct {
	conditionID string
	marketSlug  string
	negRisk     bool
	amounts     [2]portfolio.Balance
	assets      []string
}

// Result summarises one check.
type Result struct {
	Submitted int
	Failed    int
}

// Check inspects every candidate asset and submits one redemption per
// resolved condition that still holds more than MinRedeemBalance.
// Per-asset failures are logged and skipped.
func (c *Checker) Check(ctx context.Context, candidates []string) Result {
	var order []string
	pending := make(map[string]*redemption)

	for _, assetID := range candidates {
		info, err := c.lookup.LookupAsset(ctx, assetID)
		if err != nil || info == nil {
			continue
		}
		if !info.Closed || info.ConditionID == "" {
			continue
		}

		bal, err := c.balances.Get(ctx, assetID)
		if err != nil {
			c.logger.Warn("balance read failed",
				zap.String("asset_id", assetID),
				zap.String("kind", string(portfolio.Classify(err))),
				zap.Error(err),
			)
			continue
		}
		if bal <= MinRedeemBalance {
			continue
		}

		r, ok := pending[info.ConditionID]
		if !ok {
			r = &redemption{conditionID: info.ConditionID, marketSlug: info.MarketSlug, negRisk: info.NegRisk}
			pending[info.ConditionID] = r
			order = append(order, info.ConditionID)
		}
		if isNo(info.Outcome) {
			r.amounts[1] += bal
		} else {
			r.amounts[0] += bal
		}
		r.assets = append(r.assets, assetID)
	}

	var res Result
	for _, cond := range order {
		r := pending[cond]
		if c.coolingDown(cond) {
			c.logger.Debug("redemption pending, skipping", zap.String("condition_id", cond))
			continue
		}
		if !c.confirmClosed(ctx, r) {
			continue
		}

		txHash, err := c.redeemer.Redeem(ctx, r.conditionID, r.negRisk, r.amounts)
		alert := notifier.RedemptionAlert{
			BotName:     c.botName,
			ConditionID: r.conditionID,
			MarketSlug:  r.marketSlug,
			NegRisk:     r.negRisk,
			TxHash:      txHash,
			Timestamp:   c.now(),
		}
		if err != nil {
			res.Failed++
			metrics.RedemptionsTotal.WithLabelValues("failed").Inc()
			c.logger.Warn("redemption failed",
				zap.String("condition_id", r.conditionID),
				zap.String("market_slug", r.marketSlug),
				zap.Error(err),
			)
			alert.Error = err.Error()
		} else {
			res.Submitted++
			metrics.RedemptionsTotal.WithLabelValues("submitted").Inc()
			c.markSubmitted(cond)
			for _, a := range r.assets {
				c.balances.Invalidate(a)
			}
		}

		if c.notifier != nil {
			c.notifier.SendRedemptionAlert(alert)
		}
	}
	return res
}

func (c *Checker) confirmClosed(ctx context.Context, r *redemption) bool {
	if c.source == nil {
		return true
	}
	c.mu.Lock()
	_, ok := c.confirmed[r.conditionID]
	c.mu.Unlock()
	if ok {
		return true
	}

	closed, err := c.source.ConditionClosed(ctx, r.conditionID)
	if err != nil {
		c.logger.Warn("could not confirm market resolution",
			zap.String("condition_id", r.conditionID),
			zap.String("market_slug", r.marketSlug),
			zap.Error(err),
		)
		return false
	}
	if !closed {
		c.logger.Info("market not closed upstream yet, deferring redemption",
			zap.String("condition_id", r.conditionID),
			zap.String("market_slug", r.marketSlug),
		)
		return false
	}

	c.mu.Lock()
	c.confirmed[r.conditionID] = struct{}{}
	c.mu.Unlock()
	return true
}

func (c *Checker) coolingDown(cond string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.submitted[cond]
	return ok && c.now().Sub(at) < c.cooldown
}

func (c *Checker) markSubmitted(cond string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted[cond] = c.now()
}

func isNo(outcome string) bool {
	return strings.EqualFold(strings.TrimSpace(outcome), "no")
}
