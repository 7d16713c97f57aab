package oracle

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceReader is the read-only view of the latest oracle prices.
type PriceReader interface {
	Price(asset string) (decimal.Decimal, bool)
}

// LatestPrices stores the most recent USD price per asset.
type LatestPrices struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	updated map[string]time.Time
}

// NewLatestPrices returns an empty price snapshot.
func NewLatestPrices() *LatestPrices {
	return &LatestPrices{
		prices:  make(map[string]decimal.Decimal),
		updated: make(map[string]time.Time),
	}
}

func normalize(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset))
}

// Price returns the last known price for asset.
func (p *LatestPrices) Price(asset string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[normalize(asset)]
	return price, ok
}

// Set records a fresh price.
func (p *LatestPrices) Set(asset string, price decimal.Decimal, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalize(asset)
	p.prices[key] = price
	p.updated[key] = at
}

// UpdatedAt returns when asset was last refreshed.
func (p *LatestPrices) UpdatedAt(asset string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.updated[normalize(asset)]
	return at, ok
}

var _ PriceReader = (*LatestPrices)(nil)
