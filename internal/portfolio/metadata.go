package portfolio

import (
	"context"
	"errors"
)

// ErrAssetNotFound is returned by a MetadataLookup that has no record of
// the asset.
var ErrAssetNotFound = errors.New("asset not found")

// PositionTag names the logical position an asset represents, e.g. an
// organisation, UP/DOWN, or a market slug. The empty tag means no position.
type PositionTag string

// None is the empty tag.
const None PositionTag = ""

// AssetInfo is the metadata the engine needs about one outcome token.
type AssetInfo struct {
	AssetID     string
	MarketSlug  string
	Question    string
	Outcome     string
	Tag         PositionTag
	ConditionID string
	Closed      bool
	NegRisk     bool
}

// MetadataLookup maps an asset to its market metadata.
type MetadataLookup interface {
	LookupAsset(ctx context.Context, assetID string) (*AssetInfo, error)
}

// Target is a desired position: the tag to hold and the asset to buy.
type Target struct {
	Tag     PositionTag
	AssetID string
}

// taggedLookup pins the tag of specific assets. Everything else about the
// asset still comes from the inner lookup.
type taggedLookup struct {
	inner MetadataLookup
	tags  map[string]PositionTag
}

// WithTags returns a lookup that reports tags[assetID] for the listed assets
// regardless of what inner derives. An asset inner does not know is still
// reported with its pinned tag.
func WithTags(inner MetadataLookup, tags map[string]PositionTag) MetadataLookup {
	if len(tags) == 0 {
		return inner
	}
	return &taggedLookup{inner: inner, tags: tags}
}

func (l *taggedLookup) LookupAsset(ctx context.Context, assetID string) (*AssetInfo, error) {
	tag, pinned := l.tags[assetID]
	if !pinned {
		return l.inner.LookupAsset(ctx, assetID)
	}
	info := &AssetInfo{AssetID: assetID}
	if l.inner != nil {
		if found, err := l.inner.LookupAsset(ctx, assetID); err == nil && found != nil {
			cp := *found
			info = &cp
		}
	}
	info.Tag = tag
	return info, nil
}
