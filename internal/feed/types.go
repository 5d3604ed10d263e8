package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is the public, copy-out view of one merged feed row. Callers never
// hold references into the cache's internal state.
type Entry struct {
	Mint           string          `json:"mint"`
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	LogoURI        string          `json:"logo_uri"`
	Stage          string          `json:"stage,omitempty"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	Volume24h      float64         `json:"volume_24h"`
	MarketCap      float64         `json:"market_cap"`
	Liquidity      float64         `json:"liquidity"`
	PriceChange24h float64         `json:"price_change_24h"`
	CurveProgress  float64         `json:"curve_progress"`
	CreatedAt      time.Time       `json:"created_at"`
	LastMergedAt   time.Time       `json:"last_merged_at"`
}

// Page is one slice of the ranked feed.
type Page struct {
	Entries       []Entry       `json:"entries"`
	Total         int           `json:"total"`
	HasMore       bool          `json:"has_more"`
	SourcesUsed   []string      `json:"sources_used"`
	FetchDuration time.Duration `json:"fetch_duration"`
}

// Sort selects the ranking applied to the merged feed.
type Sort string

const (
	SortVolume    Sort = "volume"
	SortMarketCap Sort = "marketcap"
	SortGainers   Sort = "gainers"
	SortLosers    Sort = "losers"
	SortNew       Sort = "new"
	SortTrending  Sort = "trending"
	SortRisk      Sort = "risk"
)

// ParseSort maps a request string onto a known sort view, defaulting to
// volume for anything unrecognized.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortVolume, SortMarketCap, SortGainers, SortLosers, SortNew, SortTrending, SortRisk:
		return Sort(s)
	default:
		return SortVolume
	}
}

// metricField is one merged numeric metric with the observation time of its
// current value, for per-field last-write-wins.
type metricField struct {
	value      float64
	observedAt time.Time
}

// set applies a candidate value observed at the given time, keeping the
// newer one.
func (f *metricField) set(v float64, observedAt time.Time) {
	if observedAt.After(f.observedAt) {
		f.value = v
		f.observedAt = observedAt
	}
}

// entry is the internal mutable representation of a feed row.
type entry struct {
	mint    string
	symbol  string
	name    string
	logoURI string
	stage   string

	price          decimal.Decimal
	priceObserved  time.Time
	volume24h      metricField
	marketCap      metricField
	liquidity      metricField
	priceChange24h metricField
	curveProgress  metricField

	createdAt    time.Time
	lastMergedAt time.Time
	missedCycles int
	seen         bool
}

func (e *entry) snapshot() Entry {
	return Entry{
		Mint:           e.mint,
		Symbol:         e.symbol,
		Name:           e.name,
		LogoURI:        e.logoURI,
		Stage:          e.stage,
		PriceUSD:       e.price,
		Volume24h:      e.volume24h.value,
		MarketCap:      e.marketCap.value,
		Liquidity:      e.liquidity.value,
		PriceChange24h: e.priceChange24h.value,
		CurveProgress:  e.curveProgress.value,
		CreatedAt:      e.createdAt,
		LastMergedAt:   e.lastMergedAt,
	}
}
