package feed

import (
	"sort"
	"time"
)

// rank orders a snapshot of entries for the requested sort view. Ties break
// by most recent merge time descending.
func rank(entries []Entry, by Sort) {
	key := rankKey(by)
	sort.SliceStable(entries, func(i, j int) bool {
		ki, kj := key(entries[i]), key(entries[j])
		if ki != kj {
			return ki > kj
		}
		return entries[i].LastMergedAt.After(entries[j].LastMergedAt)
	})
}

// rankKey returns the score function for a sort view. Higher scores rank
// first.
func rankKey(by Sort) func(Entry) float64 {
	switch by {
	case SortMarketCap:
		return func(e Entry) float64 { return e.MarketCap }
	case SortGainers:
		return func(e Entry) float64 { return e.PriceChange24h }
	case SortLosers:
		return func(e Entry) float64 { return -e.PriceChange24h }
	case SortNew:
		return func(e Entry) float64 {
			if e.CreatedAt.IsZero() {
				return 0
			}
			return float64(e.CreatedAt.UnixMilli())
		}
	case SortTrending:
		return trendingScore
	case SortRisk:
		return riskScore
	default:
		return func(e Entry) float64 { return e.Volume24h }
	}
}

// trendingScore weights 24h volume by positive price momentum so a flat
// high-volume majors pool does not drown out a runner.
func trendingScore(e Entry) float64 {
	momentum := e.PriceChange24h
	if momentum < 0 {
		momentum = 0
	}
	return e.Volume24h * (1 + momentum/100)
}

// riskScore is a display heuristic, not a safety rating: thin liquidity
// relative to market cap and very young listings score as riskier.
func riskScore(e Entry) float64 {
	score := 0.0

	if e.MarketCap > 0 {
		liqRatio := e.Liquidity / e.MarketCap
		if liqRatio > 1 {
			liqRatio = 1
		}
		score += 1 - liqRatio
	} else {
		score += 1
	}

	if !e.CreatedAt.IsZero() && time.Since(e.CreatedAt) < 24*time.Hour {
		score += 0.5
	}

	// Still on the bonding curve means no locked pool yet.
	if e.CurveProgress > 0 && e.CurveProgress < 100 {
		score += 0.25
	}

	return score
}
