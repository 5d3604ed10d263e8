package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mints(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Mint
	}
	return out
}

func TestRankByVolumeDescending(t *testing.T) {
	entries := []Entry{
		{Mint: "low", Volume24h: 10},
		{Mint: "high", Volume24h: 1000},
		{Mint: "mid", Volume24h: 100},
	}
	rank(entries, SortVolume)
	assert.Equal(t, []string{"high", "mid", "low"}, mints(entries))
}

func TestGainersAndLosersMirror(t *testing.T) {
	entries := []Entry{
		{Mint: "up", PriceChange24h: 45},
		{Mint: "down", PriceChange24h: -80},
		{Mint: "flat", PriceChange24h: 0},
	}

	rank(entries, SortGainers)
	assert.Equal(t, []string{"up", "flat", "down"}, mints(entries))

	rank(entries, SortLosers)
	assert.Equal(t, []string{"down", "flat", "up"}, mints(entries))
}

func TestNewRanksYoungestFirst(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Mint: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{Mint: "fresh", CreatedAt: now},
		{Mint: "unknown"}, // no creation time sinks to the bottom
		{Mint: "recent", CreatedAt: now.Add(-time.Hour)},
	}
	rank(entries, SortNew)
	assert.Equal(t, []string{"fresh", "recent", "old", "unknown"}, mints(entries))
}

func TestTrendingRewardsMomentumOverRawVolume(t *testing.T) {
	entries := []Entry{
		{Mint: "whale-pool", Volume24h: 10000, PriceChange24h: 0},
		{Mint: "runner", Volume24h: 9000, PriceChange24h: 150},
		{Mint: "dumper", Volume24h: 9000, PriceChange24h: -90},
	}
	rank(entries, SortTrending)
	assert.Equal(t, "runner", entries[0].Mint)
	// Negative momentum is not punished below plain volume ranking.
	assert.Equal(t, []string{"runner", "whale-pool", "dumper"}, mints(entries))
}

func TestRiskFlagsThinYoungCurveTokens(t *testing.T) {
	entries := []Entry{
		{
			Mint:      "bluechip",
			MarketCap: 1_000_000,
			Liquidity: 900_000,
			CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		},
		{
			Mint:          "fresh-curve",
			MarketCap:     50_000,
			Liquidity:     1_000,
			CreatedAt:     time.Now().Add(-time.Hour),
			CurveProgress: 40,
		},
	}
	rank(entries, SortRisk)
	assert.Equal(t, "fresh-curve", entries[0].Mint)
}

func TestTiesBreakByMostRecentMerge(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Mint: "stale", Volume24h: 100, LastMergedAt: now.Add(-time.Minute)},
		{Mint: "live", Volume24h: 100, LastMergedAt: now},
	}
	rank(entries, SortVolume)
	assert.Equal(t, []string{"live", "stale"}, mints(entries))
}

func TestParseSortDefaultsToVolume(t *testing.T) {
	assert.Equal(t, SortTrending, ParseSort("trending"))
	assert.Equal(t, SortVolume, ParseSort(""))
	assert.Equal(t, SortVolume, ParseSort("bogus"))
}
