package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/feed"
	"github.com/AxsolTools/bonk1st-sub009/internal/pricing"
	"github.com/AxsolTools/bonk1st-sub009/internal/stream"
	"github.com/AxsolTools/bonk1st-sub009/pkg/providers"
	storage "github.com/AxsolTools/bonk1st-sub009/pkg/storage/postgres/test"
)

// solPricer serves a fixed native-asset price to the aggregator.
type solPricer struct {
	price decimal.Decimal
}

func (p *solPricer) Name() string { return "dexscreener" }

func (p *solPricer) FetchPrice(_ context.Context, mint string) (*providers.Quote, error) {
	return &providers.Quote{
		Mint:       mint,
		PriceUSD:   p.price,
		Source:     p.Name(),
		ObservedAt: time.Now(),
	}, nil
}

func testServiceConfig() *config.Config {
	return &config.Config{
		Price: config.PriceConfig{
			CacheTTL:           time.Minute,
			ProviderTimeout:    time.Second,
			AgreeTolerance:     0.02,
			AgreeConfidence:    0.95,
			DisagreeConfidence: 0.5,
			DegradedAfterFails: 3,
		},
		Feed: config.FeedConfig{
			RefreshInterval:  time.Hour,
			EvictAfterCycles: 3,
			DefaultLimit:     20,
			MaxLimit:         50,
		},
		Curve: config.CurveConfig{MigrationThresholdSol: 85},
	}
}

// newTestService assembles a service on in-process parts: a fixed-price
// provider, no listing pollers, and a monitor whose dialer never connects.
func newTestService(t *testing.T, sink Sink, solPrice float64) *Service {
	t.Helper()

	cfg := testServiceConfig()
	log := zap.NewNop()

	dial := func(ctx context.Context, _ string) (stream.Conn, error) {
		<-ctx.Done()
		return nil, errors.New("no transport in tests")
	}

	return &Service{
		cfg: cfg,
		log: log,
		prices: pricing.NewAggregator(cfg.Price,
			[]providers.PriceProvider{&solPricer{price: decimal.NewFromFloat(solPrice)}}, log),
		feed:    feed.NewCache(cfg.Feed, nil, log),
		monitor: stream.NewMonitorWithDialer(config.StreamConfig{}, dial, log),
		sink:    sink,
	}
}

func lookupFeedEntry(s *Service, mint string) (feed.Entry, bool) {
	page, err := s.FetchFeed(context.Background(), 1, 50, "volume")
	if err != nil {
		return feed.Entry{}, false
	}
	for _, e := range page.Entries {
		if e.Mint == mint {
			return e, true
		}
	}
	return feed.Entry{}, false
}

func feedEntry(t *testing.T, s *Service, mint string) feed.Entry {
	t.Helper()
	e, ok := lookupFeedEntry(s, mint)
	require.True(t, ok, "mint %s not in feed", mint)
	return e
}

func TestCurveProgressClamped(t *testing.T) {
	s := newTestService(t, nil, 200)

	assert.Equal(t, 50.0, s.curveProgress(42.5))
	assert.Equal(t, 100.0, s.curveProgress(200))
	assert.Equal(t, 0.0, s.curveProgress(-5))

	s.cfg.Curve.MigrationThresholdSol = 0
	assert.Equal(t, 0.0, s.curveProgress(42.5))
}

func TestHandleNewTokenTracksAndPersists(t *testing.T) {
	sink := storage.NewMemorySink()
	s := newTestService(t, sink, 200)

	s.handleNewToken(stream.NewTokenEvent{
		Mint:   "mintA",
		Symbol: "NEW",
		Name:   "New Token",
		URI:    "https://img.invalid/n.png",
	})

	assert.Equal(t, 1, s.GetMasterCacheSize())
	assert.Equal(t, 1, s.monitor.SubscriptionRefCount("mintA"))

	require.Eventually(t, func() bool {
		rec, ok := sink.Token("mintA")
		return ok && rec.Symbol == "NEW" && !rec.FirstSeenAt.IsZero()
	}, time.Second, time.Millisecond)
}

func TestHandleTradeDerivesUsdPriceAndCurveState(t *testing.T) {
	sink := storage.NewMemorySink()
	s := newTestService(t, sink, 200)

	s.handleTrade(stream.TradeEvent{
		Mint:        "mintA",
		IsBuy:       true,
		SolAmount:   1,
		TokenAmount: 20000,
		SolInCurve:  42.5,
	})

	require.Eventually(t, func() bool {
		rec, ok := sink.CurveState("mintA")
		return ok && rec.Progress == 50 && rec.SolInCurve == 42.5
	}, time.Second, time.Millisecond)

	// 1 SOL at $200 bought 20000 tokens: $0.01 per token.
	require.Eventually(t, func() bool {
		e, ok := lookupFeedEntry(s, "mintA")
		return ok && e.PriceUSD.Equal(decimal.NewFromFloat(0.01))
	}, time.Second, time.Millisecond)
}

func TestHandleMigrationPersistsStage(t *testing.T) {
	sink := storage.NewMemorySink()
	s := newTestService(t, sink, 200)

	s.handleMigration(stream.MigrationEvent{Mint: "mintA", Stage: "raydium"})

	e := feedEntry(t, s, "mintA")
	assert.Equal(t, "raydium", e.Stage)
	assert.Equal(t, 100.0, e.CurveProgress)

	require.Eventually(t, func() bool {
		rec, ok := sink.CurveState("mintA")
		return ok && rec.Stage == "raydium" && rec.Progress == 100
	}, time.Second, time.Millisecond)
}

func TestNilSinkSkipsPersistenceSafely(t *testing.T) {
	s := newTestService(t, nil, 200)

	s.handleNewToken(stream.NewTokenEvent{Mint: "mintA", Symbol: "NEW"})
	s.handleTrade(stream.TradeEvent{Mint: "mintA", SolAmount: 1, TokenAmount: 100, SolInCurve: 10})
	s.handleMigration(stream.MigrationEvent{Mint: "mintA", Stage: "raydium"})

	e := feedEntry(t, s, "mintA")
	assert.Equal(t, "raydium", e.Stage)
}

func TestBuildProvidersHonorsEnableFlags(t *testing.T) {
	cfg := config.ProvidersConfig{
		DexScreener:   config.ProviderConfig{Enabled: true, BaseURL: "https://api.dexscreener.com"},
		Jupiter:       config.ProviderConfig{Enabled: true, BaseURL: "https://price.jup.ag"},
		GeckoTerminal: config.ProviderConfig{Enabled: true, BaseURL: "https://api.geckoterminal.com"},
		Birdeye:       config.ProviderConfig{Enabled: false},
	}

	prices, listings := buildProviders(cfg)

	require.Len(t, prices, 2)
	assert.Equal(t, "dexscreener", prices[0].Name())
	assert.Equal(t, "jupiter", prices[1].Name())

	require.Len(t, listings, 2)
	assert.Equal(t, "dexscreener", listings[0].Name())
	assert.Equal(t, "geckoterminal", listings[1].Name())
}
