package feed

import (
	"time"

	"github.com/AxsolTools/bonk1st-sub009/pkg/providers"
)

// applyListing merges one provider listing into the entry. Numeric metrics
// follow last-write-wins per field by observation time; zero values mean the
// provider did not report the field and never overwrite real data. Metadata
// keeps the first non-empty value encountered, which honors provider
// priority because refresh processes providers in priority order.
func (e *entry) applyListing(l providers.Listing) {
	if e.symbol == "" {
		e.symbol = l.Symbol
	}
	if e.name == "" {
		e.name = l.Name
	}
	if e.logoURI == "" {
		e.logoURI = l.LogoURI
	}
	if e.createdAt.IsZero() && !l.CreatedAt.IsZero() {
		e.createdAt = l.CreatedAt
	}

	if !l.PriceUSD.IsZero() && l.ObservedAt.After(e.priceObserved) {
		e.price = l.PriceUSD
		e.priceObserved = l.ObservedAt
	}
	if l.Volume24h != 0 {
		e.volume24h.set(l.Volume24h, l.ObservedAt)
	}
	if l.MarketCap != 0 {
		e.marketCap.set(l.MarketCap, l.ObservedAt)
	}
	if l.Liquidity != 0 {
		e.liquidity.set(l.Liquidity, l.ObservedAt)
	}
	if l.PriceChange24h != 0 {
		e.priceChange24h.set(l.PriceChange24h, l.ObservedAt)
	}

	e.lastMergedAt = time.Now()
	e.seen = true
	e.missedCycles = 0
}
