package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/config"
)

// fakeConn is an in-process transport double. Frames pushed via push() come
// out of ReadMessage; control messages written by the monitor are recorded.
type fakeConn struct {
	mu     sync.Mutex
	writes []controlMessage
	frames chan []byte
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.frames
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, raw, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.frames) })
	return nil
}

func (c *fakeConn) push(t *testing.T, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.frames <- raw
}

func (c *fakeConn) sent(method, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.writes {
		if w.Method != method {
			continue
		}
		if key == "" {
			return true
		}
		for _, k := range w.Keys {
			if k == key {
				return true
			}
		}
	}
	return false
}

// startMonitor runs a monitor whose dialer hands out fake conns on demand.
func startMonitor(t *testing.T) (*Monitor, chan *fakeConn, context.CancelFunc) {
	t.Helper()

	conns := make(chan *fakeConn, 4)
	dial := func(ctx context.Context, _ string) (Conn, error) {
		select {
		case c := <-conns:
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cfg := config.StreamConfig{
		URL:            "wss://test.invalid/stream",
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
	m := NewMonitorWithDialer(cfg, dial, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)

	return m, conns, cancel
}

func waitConnected(t *testing.T, m *Monitor) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == Connected },
		time.Second, time.Millisecond)
}

func TestQueuedSubscriptionsFlushOnConnect(t *testing.T) {
	m, conns, _ := startMonitor(t)

	// Subscriptions arrive while still disconnected: they must queue.
	m.SubscribeTokenTrades([]string{"mintA", "mintB"})
	m.SubscribeNewTokens()

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	require.Eventually(t, func() bool {
		return conn.sent(methodSubscribeTokenTrade, "mintA") &&
			conn.sent(methodSubscribeTokenTrade, "mintB") &&
			conn.sent(methodSubscribeNewToken, "") &&
			conn.sent(methodSubscribeMigration, "")
	}, time.Second, time.Millisecond)
}

func TestResubscribeAfterReconnect(t *testing.T) {
	m, conns, _ := startMonitor(t)

	conn1 := newFakeConn()
	conns <- conn1
	waitConnected(t, m)

	m.SubscribeTokenTrades([]string{"mintA"})
	require.Eventually(t, func() bool {
		return conn1.sent(methodSubscribeTokenTrade, "mintA")
	}, time.Second, time.Millisecond)

	// Simulate transport loss.
	conn1.Close()

	conn2 := newFakeConn()
	conns <- conn2
	waitConnected(t, m)

	require.Eventually(t, func() bool {
		return conn2.sent(methodSubscribeTokenTrade, "mintA")
	}, time.Second, time.Millisecond,
		"active subscriptions must be restored without caller intervention")
}

func TestRefCountGovernsTransportSubscription(t *testing.T) {
	m, conns, _ := startMonitor(t)

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	// Two independent callers track the same mint.
	m.SubscribeTokenTrades([]string{"mintA"})
	m.SubscribeTokenTrades([]string{"mintA"})
	require.Equal(t, 2, m.SubscriptionRefCount("mintA"))

	// One caller leaves: the transport subscription stays.
	m.UnsubscribeTokenTrades([]string{"mintA"})
	assert.False(t, conn.sent(methodUnsubscribeTokenTrade, "mintA"))
	require.Equal(t, 1, m.SubscriptionRefCount("mintA"))

	// Last caller leaves: now the unsubscribe goes out.
	m.UnsubscribeTokenTrades([]string{"mintA"})
	require.Eventually(t, func() bool {
		return conn.sent(methodUnsubscribeTokenTrade, "mintA")
	}, time.Second, time.Millisecond)
}

func TestTradeOrderPreservedPerMint(t *testing.T) {
	m, conns, _ := startMonitor(t)

	var mu sync.Mutex
	var amounts []float64
	m.OnTrade(func(ev TradeEvent) {
		mu.Lock()
		amounts = append(amounts, ev.SolAmount)
		mu.Unlock()
	})

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	for i := 1; i <= 5; i++ {
		conn.push(t, map[string]interface{}{
			"txType":    "buy",
			"mint":      "mintA",
			"solAmount": float64(i),
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(amounts) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, amounts)
}

func TestMalformedFrameDoesNotKillLoop(t *testing.T) {
	m, conns, _ := startMonitor(t)

	var got []string
	var mu sync.Mutex
	m.OnNewToken(func(ev NewTokenEvent) {
		mu.Lock()
		got = append(got, ev.Mint)
		mu.Unlock()
	})

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	conn.frames <- []byte("{not json")
	conn.push(t, map[string]interface{}{
		"txType": "create",
		"mint":   "mintC",
		"symbol": "NEW",
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "mintC"
	}, time.Second, time.Millisecond)
}

func TestEventKindsDecoded(t *testing.T) {
	m, conns, _ := startMonitor(t)

	var mu sync.Mutex
	var trade *TradeEvent
	var migration *MigrationEvent
	m.OnTrade(func(ev TradeEvent) {
		mu.Lock()
		trade = &ev
		mu.Unlock()
	})
	m.OnMigration(func(ev MigrationEvent) {
		mu.Lock()
		migration = &ev
		mu.Unlock()
	})

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	conn.push(t, map[string]interface{}{
		"txType":             "sell",
		"mint":               "mintA",
		"solAmount":          0.5,
		"tokenAmount":        10000.0,
		"vSolInBondingCurve": 42.5,
	})
	conn.push(t, map[string]interface{}{
		"txType": "migrate",
		"mint":   "mintA",
		"pool":   "raydium",
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return trade != nil && migration != nil
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, trade.IsBuy)
	assert.Equal(t, 42.5, trade.SolInCurve)
	assert.Equal(t, "raydium", migration.Stage)
}

func TestShutdownLeavesDisconnected(t *testing.T) {
	m, conns, cancel := startMonitor(t)

	conn := newFakeConn()
	conns <- conn
	waitConnected(t, m)

	// Cancellation alone must unblock the read loop and stop the monitor.
	cancel()

	require.Eventually(t, func() bool { return m.State() == Disconnected },
		time.Second, time.Millisecond)
}

// overlapConn flags any two WriteJSON calls that run at the same time.
type overlapConn struct {
	fakeConn
	inWrite  atomic.Int32
	overlaps atomic.Int32
}

func newOverlapConn() *overlapConn {
	c := &overlapConn{}
	c.frames = make(chan []byte, 64)
	return c
}

func (c *overlapConn) WriteJSON(v interface{}) error {
	if c.inWrite.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	// Widen the race window so unsynchronized writers actually collide.
	time.Sleep(time.Millisecond)
	c.inWrite.Add(-1)
	return c.fakeConn.WriteJSON(v)
}

func TestConcurrentSubscribesSerializeTransportWrites(t *testing.T) {
	conn := newOverlapConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	cfg := config.StreamConfig{
		URL:            "wss://test.invalid/stream",
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
	m := NewMonitorWithDialer(cfg, dial, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)
	waitConnected(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mint := fmt.Sprintf("mint-%d", i)
			m.SubscribeTokenTrades([]string{mint})
			m.UnsubscribeTokenTrades([]string{mint})
		}(i)
	}
	m.SubscribeNewTokens()
	wg.Wait()

	assert.Zero(t, conn.overlaps.Load(),
		"transport writes must never overlap; the connection allows one writer")
}
