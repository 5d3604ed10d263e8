package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
)

// ErrNotConnected is returned by operations that require a live transport.
// Subscription calls never return it: they queue and flush on connect.
var ErrNotConnected = errors.New("stream not connected")

// State is the monitor's connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn is the subset of the websocket connection the monitor uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a transport connection to the stream endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

func gorillaDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Monitor owns the single persistent streaming connection to the market
// event provider. It is a long-lived singleton with a connect/reconnect
// lifecycle: transport loss triggers a backoff-scheduled retry, and the
// reference-counted subscription set is replayed on every reconnect so
// observers never need to resubscribe.
type Monitor struct {
	cfg  config.StreamConfig
	log  *zap.Logger
	dial Dialer

	subs     *subscriptionSet
	registry *registry

	mu    sync.Mutex
	conn  Conn
	state State

	// writeMu serializes transport writes. gorilla/websocket supports only
	// one concurrent writer per connection and panics otherwise.
	writeMu sync.Mutex
}

// NewMonitor builds a monitor using the default websocket dialer.
func NewMonitor(cfg config.StreamConfig, log *zap.Logger) *Monitor {
	return NewMonitorWithDialer(cfg, gorillaDialer(cfg.HandshakeTimeout), log)
}

// NewMonitorWithDialer builds a monitor with a custom transport, used by
// tests to inject an in-process connection.
func NewMonitorWithDialer(cfg config.StreamConfig, dial Dialer, log *zap.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		log:      log,
		dial:     dial,
		subs:     newSubscriptionSet(),
		registry: newRegistry(log),
		state:    Disconnected,
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTrade registers a trade handler and returns its unsubscribe func.
func (m *Monitor) OnTrade(fn func(TradeEvent)) func() { return m.registry.onTrade(fn) }

// OnMigration registers a migration handler and returns its unsubscribe func.
func (m *Monitor) OnMigration(fn func(MigrationEvent)) func() { return m.registry.onMigration(fn) }

// OnNewToken registers a new-listing handler and returns its unsubscribe func.
func (m *Monitor) OnNewToken(fn func(NewTokenEvent)) func() { return m.registry.onNewToken(fn) }

// SubscribeTokenTrades adds one reference per mint. Mints newly entering the
// set are subscribed upstream when connected; otherwise the subscription is
// queued and flushed once the connection is established.
func (m *Monitor) SubscribeTokenTrades(mints []string) {
	added := m.subs.addRef(mints)
	if len(added) == 0 {
		return
	}
	if err := m.sendControl(methodSubscribeTokenTrade, added); err != nil {
		// Not connected or write failed: the full set is replayed on the
		// next (re)connect, so nothing is lost here.
		m.log.Debug("subscribe queued until connect",
			zap.Int("mints", len(added)), zap.Error(err))
	}
}

// UnsubscribeTokenTrades drops one reference per mint. Only mints whose
// count reaches zero are unsubscribed upstream.
func (m *Monitor) UnsubscribeTokenTrades(mints []string) {
	dropped := m.subs.release(mints)
	if len(dropped) == 0 {
		return
	}
	if err := m.sendControl(methodUnsubscribeTokenTrade, dropped); err != nil {
		m.log.Debug("unsubscribe skipped while disconnected",
			zap.Int("mints", len(dropped)), zap.Error(err))
	}
}

// SubscribeNewTokens enables the global new-listing subscription. Idempotent;
// independent of per-asset reference counts.
func (m *Monitor) SubscribeNewTokens() {
	if !m.subs.markNewTokens() {
		return
	}
	if err := m.sendControl(methodSubscribeNewToken, nil); err != nil {
		m.log.Debug("new-token subscribe queued until connect", zap.Error(err))
	}
}

// SubscriptionRefCount reports the reference count for one mint, for
// introspection and tests.
func (m *Monitor) SubscriptionRefCount(mint string) int {
	return m.subs.refCount(mint)
}

// Run owns the connection for the lifetime of ctx. Connection failures and
// transport loss are absorbed here: the loop reconnects on an exponential
// backoff schedule and never returns an error to the caller.
func (m *Monitor) Run(ctx context.Context) {
	bo := m.newBackoff()

	for {
		if ctx.Err() != nil {
			m.setState(Disconnected)
			return
		}

		m.setState(Connecting)
		conn, err := m.dial(ctx, m.cfg.URL)
		if err != nil {
			m.setState(Reconnecting)
			metrics.StreamReconnects.Inc()
			wait := bo.NextBackOff()
			m.log.Warn("stream connect failed",
				zap.String("url", m.cfg.URL),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			if !sleepCtx(ctx, wait) {
				m.setState(Disconnected)
				return
			}
			continue
		}

		bo.Reset()
		m.mu.Lock()
		m.conn = conn
		m.state = Connected
		m.mu.Unlock()
		m.log.Info("stream connected", zap.String("url", m.cfg.URL))

		m.replaySubscriptions()

		// Unblock the read loop on shutdown: ReadMessage only returns when
		// the transport fails, so ctx cancellation must close the conn.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				if m.conn != nil {
					_ = m.conn.Close()
				}
				m.mu.Unlock()
			case <-readDone:
			}
		}()

		readErr := m.readLoop(ctx)
		close(readDone)

		m.mu.Lock()
		if m.conn != nil {
			_ = m.conn.Close()
			m.conn = nil
		}
		m.state = Reconnecting
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.setState(Disconnected)
			return
		}

		metrics.StreamReconnects.Inc()
		wait := bo.NextBackOff()
		m.log.Warn("stream disconnected",
			zap.Duration("retry_in", wait),
			zap.Error(readErr))
		if !sleepCtx(ctx, wait) {
			m.setState(Disconnected)
			return
		}
	}
}

// readLoop consumes frames until the transport fails or ctx ends. Malformed
// frames are logged and skipped; they never terminate the monitor.
func (m *Monitor) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			metrics.MalformedFrames.Inc()
			m.log.Warn("malformed stream frame", zap.Error(err))
			continue
		}

		switch f.TxType {
		case "buy", "sell":
			m.registry.dispatchTrade(TradeEvent{
				Mint:         f.Mint,
				IsBuy:        f.TxType == "buy",
				SolAmount:    f.SolAmount,
				TokenAmount:  f.TokenAmount,
				SolInCurve:   f.VSolInBondingCurve,
				MarketCapSol: f.MarketCapSol,
			})
		case "create":
			m.registry.dispatchNewToken(NewTokenEvent{
				Mint:   f.Mint,
				Symbol: f.Symbol,
				Name:   f.Name,
				URI:    f.URI,
			})
		case "migrate":
			m.registry.dispatchMigration(MigrationEvent{
				Mint:  f.Mint,
				Stage: f.Pool,
			})
		default:
			// Server acks and keepalives carry no txType.
			if f.Message != "" {
				m.log.Debug("stream ack", zap.String("message", f.Message))
			}
		}
	}
}

// replaySubscriptions re-sends the full live subscription set after a
// (re)connect. Migration events are a global firehose and always on.
func (m *Monitor) replaySubscriptions() {
	if err := m.sendControl(methodSubscribeMigration, nil); err != nil {
		m.log.Warn("migration subscribe failed", zap.Error(err))
	}
	if m.subs.wantsNewTokens() {
		if err := m.sendControl(methodSubscribeNewToken, nil); err != nil {
			m.log.Warn("new-token subscribe failed", zap.Error(err))
		}
	}
	if active := m.subs.active(); len(active) > 0 {
		if err := m.sendControl(methodSubscribeTokenTrade, active); err != nil {
			m.log.Warn("trade resubscribe failed",
				zap.Int("mints", len(active)), zap.Error(err))
		}
	}
}

func (m *Monitor) sendControl(method string, keys []string) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(controlMessage{Method: method, Keys: keys})
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// newBackoff builds the reconnect schedule: exponential up to the configured
// ceiling, never giving up.
func (m *Monitor) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffInitial
	bo.MaxInterval = m.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1
	return bo
}

// sleepCtx waits for d or until ctx ends; reports false when ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
