package oracle

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"synthvault/internal/valuation"
)

// Feed is the in-memory view of the latest price per feed identifier.
// The NATS subscriber writes into it; the valuation layer reads from it.
type Feed struct {
	mu     sync.RWMutex
	latest map[string]pricePoint
}

type pricePoint struct {
	price     *big.Int
	updatedAt time.Time
}

// NewFeed creates an empty price feed store.
func NewFeed() *Feed {
	return &Feed{latest: make(map[string]pricePoint)}
}

// Update records the latest price for a feed. Non-positive prices are
// rejected at the subscriber before reaching here.
func (f *Feed) Update(feed string, price *big.Int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[feed] = pricePoint{price: new(big.Int).Set(price), updatedAt: at}
}

// LatestPrice returns the most recent price for the feed. A feed with no
// price yet is treated the same as an invalid quote.
func (f *Feed) LatestPrice(feed string) (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.latest[feed]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: no price for feed %s", valuation.ErrInvalidPrice, feed)
	}
	return new(big.Int).Set(p.price), p.updatedAt, nil
}

// Feeds returns the identifiers that currently hold a price.
func (f *Feed) Feeds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.latest))
	for id := range f.latest {
		out = append(out, id)
	}
	return out
}
