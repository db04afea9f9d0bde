package portfolio

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMinimumBalance is one whole share; anything at or below is dust.
const DefaultMinimumBalance = OneUnit

// Resolution is the position currently held. An empty Tag means none.
type Resolution struct {
	Tag     PositionTag
	AssetID string
	Balance Balance
}

// Held reports whether a position was found.
func (r Resolution) Held() bool { return r.Tag != None }

// Holds reports whether t is already the held position. Matching assets
// count even when the tags differ.
func (r Resolution) Holds(t *Target) bool {
	if t == nil {
		return false
	}
	return t.Tag == r.Tag || (r.AssetID != "" && t.AssetID == r.AssetID)
}

// Resolver derives the held position from candidate assets.
type Resolver struct {
	cache          *BalanceCache
	lookup         MetadataLookup
	minimumBalance Balance
	concurrency    int
	logger         *zap.Logger
}

type ResolverOptions struct {
	MinimumBalance Balance
	Concurrency    int
}

func NewResolver(cache *BalanceCache, lookup MetadataLookup, opts ResolverOptions, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinimumBalance == 0 {
		opts.MinimumBalance = DefaultMinimumBalance
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Resolver{
		cache:          cache,
		lookup:         lookup,
		minimumBalance: opts.MinimumBalance,
		concurrency:    opts.Concurrency,
		logger:         logger.Named("resolver"),
	}
}

type balanceRead struct {
	balance Balance
	err     error
}

// ResolveCurrentPosition returns the candidate with the strictly highest
// balance above the minimum. Ties go to the earliest candidate. Balance
// errors skip the asset unless every read failed.
func (r *Resolver) ResolveCurrentPosition(ctx context.Context, candidates []string) (Resolution, error) {
	if len(candidates) == 0 {
		return Resolution{}, nil
	}

	reads := make([]balanceRead, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, assetID := range candidates {
		g.Go(func() error {
			b, err := r.cache.Get(gctx, assetID)
			reads[i] = balanceRead{balance: b, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	var (
		best     Resolution
		failures int
		errs     []error
	)
	for i, assetID := range candidates {
		read := reads[i]
		if read.err != nil {
			failures++
			errs = append(errs, read.err)
			r.logger.Warn("balance fetch failed, skipping asset",
				zap.String("asset_id", assetID),
				zap.String("kind", string(Classify(read.err))),
				zap.Error(read.err),
			)
			continue
		}
		if read.balance <= r.minimumBalance {
			if read.balance > 0 {
				r.logger.Debug("ignoring dust balance",
					zap.String("asset_id", assetID),
					zap.Stringer("balance", read.balance),
				)
			}
			continue
		}
		if read.balance > best.Balance {
			best = Resolution{AssetID: assetID, Balance: read.balance}
		}
	}
	if failures == len(candidates) {
		return Resolution{}, fmt.Errorf("resolve position: all %d balance reads failed: %w", failures, errors.Join(errs...))
	}
	if best.AssetID == "" {
		return Resolution{}, nil
	}

	info, err := r.lookup.LookupAsset(ctx, best.AssetID)
	switch {
	case err != nil:
		r.logger.Warn("metadata lookup failed for held asset",
			zap.String("kind", string(KindMetadataLookupMiss)),
			zap.String("asset_id", best.AssetID),
			zap.Stringer("balance", best.Balance),
			zap.Error(err),
		)
		return Resolution{}, nil
	case info == nil || info.Tag == None:
		r.logger.Warn("held asset has no position tag",
			zap.String("kind", string(KindMetadataLookupMiss)),
			zap.String("asset_id", best.AssetID),
			zap.Stringer("balance", best.Balance),
		)
		return Resolution{}, nil
	}

	best.Tag = info.Tag
	return best, nil
}
