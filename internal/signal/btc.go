package signal

import (
	"context"

	"polyrotate/config"
	"polyrotate/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TagUp   portfolio.PositionTag = "UP"
	TagDown portfolio.PositionTag = "DOWN"
)

// PositionTags pins the tags of the configured outcome tokens so the held
// position resolves to the same tags the evaluator targets. Only the btc
// strategy names its tokens directly.
func PositionTags(cfg *config.Config) map[string]portfolio.PositionTag {
	if cfg == nil || cfg.Bot.Strategy != config.StrategyBTC {
		return nil
	}
	tags := make(map[string]portfolio.PositionTag, 2)
	if id := cfg.Signals.BTC.UpTokenID; id != "" {
		tags[id] = TagUp
	}
	if id := cfg.Signals.BTC.DownTokenID; id != "" {
		tags[id] = TagDown
	}
	return tags
}

// BTCEvaluator holds UP above target+buffer and DOWN below target-buffer.
// Inside the band, or when the price is unavailable, it holds.
type BTCEvaluator struct {
	prices      PriceSource
	target      decimal.Decimal
	buffer      decimal.Decimal
	upTokenID   string
	downTokenID string
	logger      *zap.Logger
}

func NewBTCEvaluator(prices PriceSource, cfg config.BTCSignalConfig, logger *zap.Logger) *BTCEvaluator {
	return &BTCEvaluator{
		prices:      prices,
		target:      decimal.NewFromFloat(cfg.TargetPrice),
		buffer:      decimal.NewFromFloat(cfg.Buffer),
		upTokenID:   cfg.UpTokenID,
		downTokenID: cfg.DownTokenID,
		logger:      logger.Named("btc_signal"),
	}
}

func (e *BTCEvaluator) Name() string { return config.StrategyBTC }

func (e *BTCEvaluator) Evaluate(ctx context.Context) (*portfolio.Target, error) {
	price, err := e.prices.GetPrice(ctx)
	if err != nil {
		e.logger.Warn("price unavailable, holding",
			zap.String("kind", string(portfolio.Classify(err))),
			zap.Error(err),
		)
		return nil, nil
	}

	upper := e.target.Add(e.buffer)
	lower := e.target.Sub(e.buffer)

	switch {
	case price.GreaterThan(upper):
		e.logger.Debug("price above band", zap.String("price", price.String()), zap.String("upper", upper.String()))
		return &portfolio.Target{Tag: TagUp, AssetID: e.upTokenID}, nil
	case price.LessThan(lower):
		e.logger.Debug("price below band", zap.String("price", price.String()), zap.String("lower", lower.String()))
		return &portfolio.Target{Tag: TagDown, AssetID: e.downTokenID}, nil
	default:
		e.logger.Debug("price inside band, holding", zap.String("price", price.String()))
		return nil, nil
	}
}
