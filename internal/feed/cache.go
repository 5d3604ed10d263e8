package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
	"github.com/AxsolTools/bonk1st-sub009/pkg/providers"
)

// ErrNoDataAvailable is returned when every listing provider failed and no
// merged feed was ever established.
var ErrNoDataAvailable = errors.New("no feed data available")

// Cache is the master token feed: it periodically polls all listing
// providers, merges and deduplicates their views into one ranked feed, and
// serves paginated slices of it. It is also the target of push deltas from
// the live stream, which write through the same merge path as the polls.
type Cache struct {
	cfg config.FeedConfig
	log *zap.Logger

	// providers in priority order; earlier wins metadata conflicts
	providers []providers.ListingProvider

	mu          sync.Mutex
	entries     map[string]*entry
	lastRefresh time.Time
	lastSources []string

	group singleflight.Group
}

// NewCache builds a feed cache over listing providers given in priority
// order.
func NewCache(cfg config.FeedConfig, ps []providers.ListingProvider, log *zap.Logger) *Cache {
	return &Cache{
		cfg:       cfg,
		log:       log,
		providers: ps,
		entries:   make(map[string]*entry),
	}
}

// Fetch returns one page of the ranked feed. A stale cache triggers a
// refresh first; concurrent callers during a refresh-in-flight share the
// same upstream round instead of issuing duplicate polls.
func (c *Cache) Fetch(ctx context.Context, page, limit int, by Sort) (Page, error) {
	start := time.Now()

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	if c.cfg.MaxLimit > 0 && limit > c.cfg.MaxLimit {
		limit = c.cfg.MaxLimit
	}

	if c.stale() {
		// Coalesced: every waiter gets the outcome of one refresh.
		_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
			if !c.stale() {
				return nil, nil
			}
			return nil, c.refresh()
		})
		if err != nil && c.Size() == 0 {
			return Page{}, ErrNoDataAvailable
		}
	}

	snapshot, sources := c.snapshotEntries()
	if len(snapshot) == 0 {
		return Page{}, ErrNoDataAvailable
	}

	rank(snapshot, by)

	total := len(snapshot)
	offset := (page - 1) * limit
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return Page{
		Entries:       snapshot[offset:end],
		Total:         total,
		HasMore:       end < total,
		SourcesUsed:   sources,
		FetchDuration: time.Since(start),
	}, nil
}

// Run refreshes the feed on the configured interval until ctx ends.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, _ = c.group.Do("refresh", func() (interface{}, error) {
				return nil, c.refresh()
			})
		}
	}
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ApplyTrade is the push-delta writer driven by live trade events. A zero
// price means the caller could not derive a USD value and only the curve
// progress is updated. Push updates count as sightings so freshly streamed
// tokens are not garbage collected before any poll lists them.
func (c *Cache) ApplyTrade(mint string, priceUSD decimal.Decimal, curveProgress float64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(mint)
	if !priceUSD.IsZero() && now.After(e.priceObserved) {
		e.price = priceUSD
		e.priceObserved = now
	}
	e.curveProgress.set(curveProgress, now)
	e.lastMergedAt = now
	e.missedCycles = 0
}

// ApplyMigration records an asset completing its curve and moving to a new
// stage.
func (c *Cache) ApplyMigration(mint, stage string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(mint)
	e.stage = stage
	e.curveProgress.set(100, now)
	e.lastMergedAt = now
	e.missedCycles = 0
}

// ApplyNewToken creates an entry for a token first sighted on the live
// stream, before any listing provider knows it.
func (c *Cache) ApplyNewToken(mint, symbol, name, logoURI string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(mint)
	if e.symbol == "" {
		e.symbol = symbol
	}
	if e.name == "" {
		e.name = name
	}
	if e.logoURI == "" {
		e.logoURI = logoURI
	}
	if e.createdAt.IsZero() {
		e.createdAt = now
	}
	e.lastMergedAt = now
	e.missedCycles = 0
}

// refresh polls all providers concurrently and merges their listings.
// Individual provider failures are absorbed; the refresh fails only when
// every provider failed.
func (c *Cache) refresh() error {
	start := time.Now()

	type result struct {
		name     string
		listings []providers.Listing
		err      error
	}

	results := make([]result, len(c.providers))
	var wg sync.WaitGroup
	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p providers.ListingProvider) {
			defer wg.Done()
			// Detached context: provider clients carry their own timeouts,
			// and a disconnecting caller must not abort the shared poll.
			listings, err := p.FetchListings(context.Background())
			results[i] = result{name: p.Name(), listings: listings, err: err}
		}(i, p)
	}
	wg.Wait()

	var sources []string
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			outcome := "error"
			if errors.Is(r.err, providers.ErrRateLimited) {
				outcome = "rate_limited"
			}
			metrics.ProviderRequests.WithLabelValues(r.name, outcome).Inc()
			c.log.Warn("listing provider failed",
				zap.String("provider", r.name), zap.Error(r.err))
			continue
		}
		metrics.ProviderRequests.WithLabelValues(r.name, "ok").Inc()
		sources = append(sources, r.name)
	}

	if failures == len(c.providers) {
		return errors.New("all listing providers failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.seen = false
	}

	// Results are merged in provider-priority order so metadata conflicts
	// resolve toward the first configured provider.
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, l := range r.listings {
			if l.Mint == "" {
				continue
			}
			c.entry(l.Mint).applyListing(l)
		}
	}

	// Garbage-collect listings absent from every provider for too long.
	for mint, e := range c.entries {
		if e.seen {
			continue
		}
		e.missedCycles++
		if e.missedCycles >= c.cfg.EvictAfterCycles {
			delete(c.entries, mint)
		}
	}

	c.lastRefresh = time.Now()
	c.lastSources = sources

	metrics.FeedEntries.Set(float64(len(c.entries)))
	metrics.FeedRefreshDuration.Observe(time.Since(start).Seconds())
	c.log.Debug("feed refreshed",
		zap.Int("entries", len(c.entries)),
		zap.Strings("sources", sources),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Cache) stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastRefresh) > c.cfg.RefreshInterval
}

// snapshotEntries copies out the current entries and last successful source
// list.
func (c *Cache) snapshotEntries() ([]Entry, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.snapshot())
	}
	sources := make([]string, len(c.lastSources))
	copy(sources, c.lastSources)
	return out, sources
}

// entry returns the row for mint, creating it on first sighting. Caller must
// hold c.mu.
func (c *Cache) entry(mint string) *entry {
	e, ok := c.entries[mint]
	if !ok {
		e = &entry{mint: mint}
		c.entries[mint] = e
	}
	return e
}
