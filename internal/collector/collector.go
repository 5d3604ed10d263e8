package collector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/feed"
	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
	"github.com/AxsolTools/bonk1st-sub009/internal/pricing"
	"github.com/AxsolTools/bonk1st-sub009/internal/rpcpool"
	"github.com/AxsolTools/bonk1st-sub009/internal/stream"
	"github.com/AxsolTools/bonk1st-sub009/pkg/providers"
	"github.com/AxsolTools/bonk1st-sub009/pkg/solana"
	"github.com/AxsolTools/bonk1st-sub009/pkg/storage/postgres"
)

// Sink receives derived market state. Writes are fire-and-forget: a sink
// failure is logged and counted, never propagated to the data path that
// produced the update.
type Sink interface {
	UpsertToken(ctx context.Context, record *postgres.TokenRecord) error
	UpsertCurveState(ctx context.Context, record *postgres.CurveStateRecord) error
	SetMigrationStage(ctx context.Context, mint, stage string, observedAt time.Time) error
}

// Service is the market-data core: it owns the single live stream monitor,
// the price aggregator, the master feed cache, and the RPC pool, and exposes
// the read surface the request layer consumes.
type Service struct {
	cfg *config.Config
	log *zap.Logger

	prices  *pricing.Aggregator
	feed    *feed.Cache
	monitor *stream.Monitor
	rotator *rpcpool.Rotator
	chain   *solana.Client
	sink    Sink
}

// New builds the service graph from configuration. The sink may be nil when
// no persistent store is configured; derived-state writes are then skipped.
func New(cfg *config.Config, sink Sink, log *zap.Logger) *Service {
	priceProviders, listingProviders := buildProviders(cfg.Providers)

	rotator := rpcpool.NewRotator(cfg.Rpc.Endpoints, cfg.Rpc.RotateAfter)

	return &Service{
		cfg:     cfg,
		log:     log,
		prices:  pricing.NewAggregator(cfg.Price, priceProviders, log),
		feed:    feed.NewCache(cfg.Feed, listingProviders, log),
		monitor: stream.NewMonitor(cfg.Stream, log),
		rotator: rotator,
		chain:   solana.NewClient(rotator, 10*time.Second, cfg.Rpc.RequestsPerSecond),
		sink:    sink,
	}
}

// buildProviders instantiates the configured upstream providers. Order
// matters for listings: it is the metadata-priority order.
func buildProviders(cfg config.ProvidersConfig) ([]providers.PriceProvider, []providers.ListingProvider) {
	var prices []providers.PriceProvider
	var listings []providers.ListingProvider

	if cfg.DexScreener.Enabled {
		ds := providers.NewDexScreener(cfg.DexScreener.BaseURL, cfg.DexScreener.Timeout)
		prices = append(prices, ds)
		listings = append(listings, ds)
	}
	if cfg.Birdeye.Enabled {
		be := providers.NewBirdeye(cfg.Birdeye.BaseURL, cfg.Birdeye.APIKey, cfg.Birdeye.Timeout)
		prices = append(prices, be)
		listings = append(listings, be)
	}
	if cfg.Jupiter.Enabled {
		prices = append(prices, providers.NewJupiter(cfg.Jupiter.BaseURL, cfg.Jupiter.Timeout))
	}
	if cfg.GeckoTerminal.Enabled {
		listings = append(listings, providers.NewGeckoTerminal(cfg.GeckoTerminal.BaseURL, cfg.GeckoTerminal.Timeout))
	}

	return prices, listings
}

// Start wires the live event handlers and launches the long-lived tasks:
// the stream monitor and the feed refresh loop. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	s.monitor.OnTrade(s.handleTrade)
	s.monitor.OnMigration(s.handleMigration)
	s.monitor.OnNewToken(s.handleNewToken)
	s.monitor.SubscribeNewTokens()

	go s.monitor.Run(ctx)
	go s.feed.Run(ctx)
}

// GetTokenPrice returns the reconciled USD price for a mint.
func (s *Service) GetTokenPrice(ctx context.Context, mint string) (pricing.Quote, error) {
	return s.prices.GetTokenPrice(ctx, mint)
}

// GetSolPrice returns the reconciled price of the chain's native asset.
func (s *Service) GetSolPrice(ctx context.Context) (pricing.Quote, error) {
	return s.prices.GetSolPrice(ctx)
}

// FetchFeed returns one page of the ranked master token feed.
func (s *Service) FetchFeed(ctx context.Context, page, limit int, sort string) (feed.Page, error) {
	return s.feed.Fetch(ctx, page, limit, feed.ParseSort(sort))
}

// GetSourceHealth returns a copy of the per-provider health table.
func (s *Service) GetSourceHealth() map[string]pricing.Health {
	return s.prices.SourceHealth()
}

// GetMasterCacheSize returns the number of entries in the feed cache.
func (s *Service) GetMasterCacheSize() int {
	return s.feed.Size()
}

// GetRpcStatus returns a snapshot of the RPC rotator state.
func (s *Service) GetRpcStatus() rpcpool.Status {
	return s.rotator.Status()
}

// StreamState returns the monitor's connection state.
func (s *Service) StreamState() stream.State {
	return s.monitor.State()
}

// InvalidatePriceCache drops all cached quotes.
func (s *Service) InvalidatePriceCache() {
	s.prices.InvalidateCache()
}

// Chain exposes the RPC client for direct chain reads by recovery paths.
func (s *Service) Chain() *solana.Client {
	return s.chain
}

// handleTrade applies the live delta to the feed and persists the derived
// curve state. The USD conversion and sink write happen off the dispatch
// path so a slow provider or store never stalls event delivery.
func (s *Service) handleTrade(ev stream.TradeEvent) {
	progress := s.curveProgress(ev.SolInCurve)
	s.feed.ApplyTrade(ev.Mint, decimal.Decimal{}, progress)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if ev.TokenAmount > 0 && ev.SolAmount > 0 {
			if solQuote, err := s.prices.GetSolPrice(ctx); err == nil {
				perToken := solQuote.PriceUSD.
					Mul(decimal.NewFromFloat(ev.SolAmount)).
					Div(decimal.NewFromFloat(ev.TokenAmount))
				s.feed.ApplyTrade(ev.Mint, perToken, progress)
			}
		}

		s.writeCurveState(ctx, ev, progress)
	}()
}

func (s *Service) handleMigration(ev stream.MigrationEvent) {
	s.feed.ApplyMigration(ev.Mint, ev.Stage)

	if s.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.SetMigrationStage(ctx, ev.Mint, ev.Stage, time.Now()); err != nil {
			metrics.SinkWriteErrors.Inc()
			s.log.Warn("migration sink write failed",
				zap.String("mint", ev.Mint), zap.Error(err))
		}
	}()
}

func (s *Service) handleNewToken(ev stream.NewTokenEvent) {
	s.feed.ApplyNewToken(ev.Mint, ev.Symbol, ev.Name, ev.URI)

	// Track the newborn's trades so curve progress starts flowing.
	s.monitor.SubscribeTokenTrades([]string{ev.Mint})

	if s.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.sink.UpsertToken(ctx, &postgres.TokenRecord{
			Mint:        ev.Mint,
			Symbol:      ev.Symbol,
			Name:        ev.Name,
			LogoURI:     ev.URI,
			FirstSeenAt: time.Now(),
		})
		if err != nil {
			metrics.SinkWriteErrors.Inc()
			s.log.Warn("token sink write failed",
				zap.String("mint", ev.Mint), zap.Error(err))
		}
	}()
}

func (s *Service) writeCurveState(ctx context.Context, ev stream.TradeEvent, progress float64) {
	if s.sink == nil {
		return
	}
	err := s.sink.UpsertCurveState(ctx, &postgres.CurveStateRecord{
		Mint:       ev.Mint,
		SolInCurve: ev.SolInCurve,
		Progress:   progress,
		ObservedAt: time.Now(),
	})
	if err != nil {
		metrics.SinkWriteErrors.Inc()
		s.log.Warn("curve sink write failed",
			zap.String("mint", ev.Mint), zap.Error(err))
	}
}

// curveProgress derives the migration progress percentage from the SOL held
// in the bonding curve.
func (s *Service) curveProgress(solInCurve float64) float64 {
	threshold := s.cfg.Curve.MigrationThresholdSol
	if threshold <= 0 {
		return 0
	}
	progress := solInCurve / threshold * 100
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}
