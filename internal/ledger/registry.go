package ledger

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrLengthMismatch is returned when the asset and feed lists given to
	// NewRegistry differ in size.
	ErrLengthMismatch = errors.New("ledger: asset and price feed lists differ in length")

	// ErrUnknownAsset is returned for any asset symbol that was not
	// registered at construction.
	ErrUnknownAsset = errors.New("ledger: unknown asset")
)

// Registry is the fixed set of approved collateral assets, each mapped to a
// price feed reference. It is populated once at construction and immutable
// afterward; every asset the ledger ever touches must exist here.
type Registry struct {
	feeds  map[string]string // asset symbol -> price feed reference
	assets []string          // sorted, for deterministic iteration
}

// NewRegistry builds a registry from parallel asset / feed lists.
func NewRegistry(assets, feeds []string) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrLengthMismatch, len(assets), len(feeds))
	}

	r := &Registry{
		feeds:  make(map[string]string, len(assets)),
		assets: make([]string, 0, len(assets)),
	}

	for i, asset := range assets {
		if _, dup := r.feeds[asset]; dup {
			return nil, fmt.Errorf("ledger: duplicate asset %q in registry", asset)
		}
		r.feeds[asset] = feeds[i]
		r.assets = append(r.assets, asset)
	}

	sort.Strings(r.assets)
	return r, nil
}

// IsRegistered reports whether asset was approved at construction.
func (r *Registry) IsRegistered(asset string) bool {
	_, ok := r.feeds[asset]
	return ok
}

// FeedFor returns the price feed reference for a registered asset.
func (r *Registry) FeedFor(asset string) (string, error) {
	feed, ok := r.feeds[asset]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return feed, nil
}

// Assets returns the registered asset symbols in sorted order.
func (r *Registry) Assets() []string {
	out := make([]string, len(r.assets))
	copy(out, r.assets)
	return out
}
