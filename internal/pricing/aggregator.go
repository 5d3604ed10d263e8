package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
	"github.com/AxsolTools/bonk1st-sub009/pkg/providers"
)

var (
	// ErrInvalidMint rejects malformed asset identifiers before any network
	// call is made.
	ErrInvalidMint = errors.New("invalid mint address")

	// ErrNoPriceAvailable is returned only when every provider failed and no
	// cached value has ever been established for the asset.
	ErrNoPriceAvailable = errors.New("no price available")
)

// Quote is a reconciled, confidence-scored price for one asset.
type Quote struct {
	Mint       string          `json:"mint"`
	PriceUSD   decimal.Decimal `json:"price_usd"`
	Source     string          `json:"source"`
	Confidence float64         `json:"confidence"`
	ObservedAt time.Time       `json:"observed_at"`
	Stale      bool            `json:"stale"`
}

// baseConfidence is the per-source trust assigned to a quote before
// cross-provider reconciliation adjusts it.
var baseConfidence = map[string]float64{
	"dexscreener": 0.9,
	"birdeye":     0.85,
	"jupiter":     0.8,
}

const defaultBaseConfidence = 0.7

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// Aggregator reconciles prices from several independent providers into one
// cached, confidence-scored quote per asset. One provider's failure never
// fails the aggregate call; total unavailability falls back to the last
// cached value flagged stale.
type Aggregator struct {
	cfg       config.PriceConfig
	log       *zap.Logger
	providers []providers.PriceProvider
	breakers  map[string]*gobreaker.CircuitBreaker
	health    *healthTable

	mu    sync.Mutex
	cache map[string]*cachedQuote

	group singleflight.Group
}

// NewAggregator builds an aggregator over the given price providers. Each
// provider gets its own circuit breaker so a hard-down upstream stops being
// polled for a cool-off window instead of eating the per-call timeout on
// every refresh.
func NewAggregator(cfg config.PriceConfig, ps []providers.PriceProvider, log *zap.Logger) *Aggregator {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(ps))
	for _, p := range ps {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && ratio >= 0.6
			},
		})
	}

	return &Aggregator{
		cfg:       cfg,
		log:       log,
		providers: ps,
		breakers:  breakers,
		health:    newHealthTable(cfg.DegradedAfterFails),
		cache:     make(map[string]*cachedQuote),
	}
}

// GetTokenPrice returns the reconciled USD price for a mint. Reads within
// the cache TTL never trigger a network call; concurrent misses for the same
// mint share a single upstream round.
func (a *Aggregator) GetTokenPrice(ctx context.Context, mint string) (Quote, error) {
	if !validMint(mint) {
		return Quote{}, ErrInvalidMint
	}

	if q, ok := a.cachedFresh(mint); ok {
		metrics.PriceCacheHits.Inc()
		return q, nil
	}

	v, err, _ := a.group.Do(mint, func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		if q, ok := a.cachedFresh(mint); ok {
			return q, nil
		}
		return a.refresh(ctx, mint)
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// GetSolPrice returns the reconciled price of the chain's native asset.
func (a *Aggregator) GetSolPrice(ctx context.Context) (Quote, error) {
	return a.GetTokenPrice(ctx, providers.NativeMint)
}

// SourceHealth returns a copy of the per-provider health table.
func (a *Aggregator) SourceHealth() map[string]Health {
	return a.health.snapshot()
}

// InvalidateCache drops all cached quotes so the next read refetches.
func (a *Aggregator) InvalidateCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]*cachedQuote)
}

func (a *Aggregator) cachedFresh(mint string) (Quote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cache[mint]
	if !ok || time.Since(entry.fetchedAt) > a.cfg.CacheTTL {
		return Quote{}, false
	}
	return entry.quote, true
}

// refresh queries all providers concurrently and merges the survivors. The
// provider calls run on detached contexts with their own timeouts.
func (a *Aggregator) refresh(_ context.Context, mint string) (Quote, error) {
	type result struct {
		quote *providers.Quote
		err   error
		name  string
	}

	results := make(chan result, len(a.providers))
	var wg sync.WaitGroup
	for _, p := range a.providers {
		wg.Add(1)
		go func(p providers.PriceProvider) {
			defer wg.Done()

			// Detached from the caller's context: a caller disconnecting must
			// not cancel an in-flight poll whose result other callers will
			// read from cache.
			callCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ProviderTimeout)
			defer cancel()

			out, err := a.breakers[p.Name()].Execute(func() (interface{}, error) {
				return p.FetchPrice(callCtx, mint)
			})
			if err != nil {
				results <- result{err: err, name: p.Name()}
				return
			}
			results <- result{quote: out.(*providers.Quote), name: p.Name()}
		}(p)
	}
	wg.Wait()
	close(results)

	var quotes []providers.Quote
	for r := range results {
		switch {
		case r.err == nil:
			a.health.recordSuccess(r.name)
			metrics.ProviderRequests.WithLabelValues(r.name, "ok").Inc()
			quotes = append(quotes, *r.quote)
		case errors.Is(r.err, gobreaker.ErrOpenState), errors.Is(r.err, gobreaker.ErrTooManyRequests):
			// Breaker short-circuited: no upstream call was made, so no
			// health mutation either.
			metrics.ProviderRequests.WithLabelValues(r.name, "breaker_open").Inc()
		case errors.Is(r.err, providers.ErrRateLimited):
			a.health.recordFailure(r.name, r.err)
			metrics.ProviderRequests.WithLabelValues(r.name, "rate_limited").Inc()
		default:
			a.health.recordFailure(r.name, r.err)
			metrics.ProviderRequests.WithLabelValues(r.name, "error").Inc()
			a.log.Debug("price provider failed",
				zap.String("provider", r.name),
				zap.String("mint", mint),
				zap.Error(r.err))
		}
	}

	if len(quotes) == 0 {
		return a.serveStale(mint)
	}

	merged := a.merge(mint, quotes)

	a.mu.Lock()
	a.cache[mint] = &cachedQuote{quote: merged, fetchedAt: time.Now()}
	a.mu.Unlock()

	return merged, nil
}

// merge reconciles surviving quotes into one value. Agreement within the
// relative tolerance raises confidence; disagreement prefers the provider
// with the best recent success rate and lowers confidence instead of failing
// the request.
func (a *Aggregator) merge(mint string, quotes []providers.Quote) Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if sourceConfidence(q.Source) > sourceConfidence(best.Source) {
			best = q
		}
	}

	confidence := sourceConfidence(best.Source)
	if len(quotes) > 1 {
		if a.allAgree(quotes, best.PriceUSD) {
			if a.cfg.AgreeConfidence > confidence {
				confidence = a.cfg.AgreeConfidence
			}
		} else {
			// Disagreement: trust the historically most reliable source.
			best = quotes[0]
			for _, q := range quotes[1:] {
				if a.health.failureCount(q.Source) < a.health.failureCount(best.Source) {
					best = q
				}
			}
			confidence = a.cfg.DisagreeConfidence
			a.log.Warn("price providers disagree beyond tolerance",
				zap.String("mint", mint),
				zap.Int("providers", len(quotes)),
				zap.String("chosen", best.Source))
		}
	}

	return Quote{
		Mint:       mint,
		PriceUSD:   best.PriceUSD,
		Source:     best.Source,
		Confidence: confidence,
		ObservedAt: best.ObservedAt,
	}
}

func (a *Aggregator) allAgree(quotes []providers.Quote, reference decimal.Decimal) bool {
	if reference.IsZero() {
		return false
	}
	tolerance := decimal.NewFromFloat(a.cfg.AgreeTolerance)
	for _, q := range quotes {
		dev := q.PriceUSD.Sub(reference).Abs().Div(reference)
		if dev.GreaterThan(tolerance) {
			return false
		}
	}
	return true
}

// serveStale returns the last cached value flagged stale, or
// ErrNoPriceAvailable when nothing was ever established.
func (a *Aggregator) serveStale(mint string) (Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cache[mint]
	if !ok {
		return Quote{}, ErrNoPriceAvailable
	}

	entry.quote.Stale = true
	metrics.PriceStaleServes.Inc()
	return entry.quote, nil
}

func sourceConfidence(source string) float64 {
	if c, ok := baseConfidence[source]; ok {
		return c
	}
	return defaultBaseConfidence
}

// validMint checks the shape of a base58 Solana address without hitting the
// network.
func validMint(mint string) bool {
	if len(mint) < 32 || len(mint) > 44 {
		return false
	}
	for _, r := range mint {
		switch {
		case r >= '1' && r <= '9':
		case r >= 'A' && r <= 'H':
		case r >= 'J' && r <= 'N':
		case r >= 'P' && r <= 'Z':
		case r >= 'a' && r <= 'k':
		case r >= 'm' && r <= 'z':
		default:
			return false
		}
	}
	return true
}
