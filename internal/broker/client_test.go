package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalpline/mt4-scalper/internal/models"
)

type stubMapper struct{}

func (stubMapper) BrokerSymbol(universal string) (string, bool) {
	if universal == "BTCUSDT" {
		return "BTCUSD", true
	}
	return "", false
}

type recordStore struct {
	mu         sync.Mutex
	orders     []models.Order
	symbols    []models.SymbolInfo
	events     int
	lastProfit float64
}

func (s *recordStore) StoreOrder(_ context.Context, o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, *o)
}

func (s *recordStore) StoreAccount(_ context.Context, _ string, _ *models.AccountSnapshot) {}

func (s *recordStore) StoreSymbols(_ context.Context, _ string, infos []models.SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = infos
}

func (s *recordStore) Symbols(_ context.Context, _ string) ([]models.SymbolInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbols == nil {
		return nil, false
	}
	return s.symbols, true
}

func (s *recordStore) PublishOrderClosed(_ context.Context, _ string, _ int64, profit float64, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	s.lastProfit = profit
}

func (s *recordStore) storedOrders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

type recordWatcher struct {
	mu      sync.Mutex
	tickets []int64
}

func (w *recordWatcher) Watch(_ string, ticket int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickets = append(w.tickets, ticket)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *recordStore, *recordWatcher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := NewAPI(srv.URL, "bridge-user", "bridge-pass", 0, zerolog.Nop())
	store := &recordStore{}
	watcher := &recordWatcher{}
	client := NewClient(api, stubMapper{}, store, RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond},
		DefaultLotSizing, zerolog.Nop())
	client.SetWatcher(watcher)
	return client, store, watcher
}

func writeEnvelope(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": json.RawMessage(raw)})
}

func writeError(w http.ResponseWriter, msg string) {
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

func TestMagicNumberDeterministicAndInRange(t *testing.T) {
	first := MagicNumber("user-1")
	assert.Equal(t, first, MagicNumber("user-1"))
	assert.NotEqual(t, first, MagicNumber("user-2"))

	for _, id := range []string{"", "user-1", "a-very-long-user-identifier", "0"} {
		m := MagicNumber(id)
		assert.GreaterOrEqual(t, m, 100000)
		assert.LessOrEqual(t, m, 999999)
	}
}

func TestClampLotSize(t *testing.T) {
	lots := DefaultLotSizing
	assert.Equal(t, 0.01, ClampLotSize(0.005, lots))
	assert.Equal(t, 0.01, ClampLotSize(0.01, lots))
	assert.Equal(t, 0.10, ClampLotSize(0.10, lots))
	assert.Equal(t, 1.0, ClampLotSize(5.0, lots))
	// Floor quantization, never round up.
	assert.Equal(t, 0.15, ClampLotSize(0.159, lots))
}

func TestCreateMarketOrderValidation(t *testing.T) {
	client, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no bridge call expected")
	}))

	_, err := client.CreateMarketOrder(context.Background(), "user-1", "BTCUSDT", models.SideBuy, 0.009, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidVolume)

	_, err = client.CreateMarketOrder(context.Background(), "user-1", "DOGEUSDT", models.SideBuy, 0.10, 0, 0)
	assert.ErrorIs(t, err, ErrSymbolUnavailable)

	assert.Empty(t, store.storedOrders())
}

func TestCreateMarketOrderRetriesContextBusy(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, store, watcher := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/orders", r.URL.Path)

		var req createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTCUSD", req.Symbol)
		assert.Equal(t, "BUY", req.Side)
		assert.Equal(t, MagicNumber("user-1"), req.MagicNumber)

		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			writeError(w, "Trade context busy (error code: 146)")
			return
		}
		writeEnvelope(w, map[string]any{"order": map[string]any{
			"ticket": 1001, "symbol": "BTCUSD", "side": "buy",
			"volume": 0.10, "openPrice": 43000.0, "status": "open",
		}})
	}))

	order, err := client.CreateMarketOrder(context.Background(), "user-1", "BTCUSDT", models.SideBuy,
		0.10, 42800, 43400)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), order.Ticket)
	assert.Equal(t, 3, attempts)

	// Exactly one cache write and one poller schedule.
	assert.Len(t, store.storedOrders(), 1)
	assert.Equal(t, []int64{1001}, watcher.tickets)
}

func TestCreateMarketOrderRetryExhausted(t *testing.T) {
	client, store, watcher := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Trade context busy (error code: 146)")
	}))

	_, err := client.CreateMarketOrder(context.Background(), "user-1", "BTCUSDT", models.SideBuy, 0.10, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order failed")
	assert.Contains(t, err.Error(), "146")
	assert.Empty(t, store.storedOrders())
	assert.Empty(t, watcher.tickets)
}

func TestCreateMarketOrderMinimumVolumeAccepted(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"order": map[string]any{"ticket": 1002, "status": "open"}})
	}))

	order, err := client.CreateMarketOrder(context.Background(), "user-1", "BTCUSDT", models.SideBuy, 0.01, 0, 0)
	require.NoError(t, err)
	// Sparse create response backfilled from the request.
	assert.Equal(t, "BTCUSD", order.Symbol)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Equal(t, 0.01, order.Volume)
	assert.Equal(t, MagicNumber("user-1"), order.MagicNumber)
}

func TestClosePositionFailsFastWhenTicketGone(t *testing.T) {
	client, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders/open", r.URL.Path)
		writeEnvelope(w, map[string]any{"orders": []any{}})
	}))

	_, err := client.ClosePosition(context.Background(), "user-1", 9999, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPositionAlreadyClosed)
	assert.Contains(t, err.Error(), "error code: 4108")
	assert.Empty(t, store.storedOrders())
}

func TestClosePositionSuccess(t *testing.T) {
	client, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orders/open":
			writeEnvelope(w, map[string]any{"orders": []any{map[string]any{
				"ticket": 1001, "symbol": "BTCUSD", "side": "buy",
				"volume": 0.10, "openPrice": 43000.0, "status": "open",
			}}})
		case "/api/v1/orders/close":
			var req closeOrderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, int64(1001), req.Ticket)
			assert.Equal(t, 0.0, req.Volume)
			// Minimal close response: no status, no closeTime.
			writeEnvelope(w, map[string]any{"ticket": 1001, "profit": -5.0})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := client.ClosePosition(context.Background(), "user-1", 1001, 0)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusClosed, order.Status)
	require.NotNil(t, order.CloseTime)
	assert.Equal(t, -5.0, order.Profit)
	// Backfilled from the live snapshot.
	assert.Equal(t, "BTCUSD", order.Symbol)
	assert.Equal(t, 0.10, order.Volume)

	assert.Len(t, store.storedOrders(), 1)
	assert.Equal(t, 1, store.events)
}

func TestClosePositionBackfillsSideAndProfitFromSnapshot(t *testing.T) {
	client, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orders/open":
			// The bridge reports the side uppercase on the live snapshot.
			writeEnvelope(w, map[string]any{"orders": []any{map[string]any{
				"ticket": 1001, "symbol": "BTCUSD", "side": "SELL",
				"volume": 0.10, "openPrice": 43000.0, "profit": -7.5, "status": "open",
			}}})
		case "/api/v1/orders/close":
			// No side, no profit on the close response.
			writeEnvelope(w, map[string]any{"ticket": 1001})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := client.ClosePosition(context.Background(), "user-1", 1001, 0)
	require.NoError(t, err)
	assert.Equal(t, models.SideSell, order.Side)
	assert.Equal(t, -7.5, order.Profit)
	assert.Equal(t, -7.5, store.lastProfit)
}

func TestGetOpenPositionsAcceptsBothShapes(t *testing.T) {
	wireOrders := []any{map[string]any{
		"ticket": 1001, "symbol": "BTCUSD", "side": "buy", "status": "open",
	}}

	nested := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"orders": wireOrders})
	})
	topLevel := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := json.Marshal(wireOrders)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "orders": json.RawMessage(raw)})
	})

	clientNested, _, _ := newTestClient(t, nested)
	clientTop, _, _ := newTestClient(t, topLevel)

	a, err := clientNested.GetOpenPositions(context.Background(), "user-1", "")
	require.NoError(t, err)
	b, err := clientTop.GetOpenPositions(context.Background(), "user-1", "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 1)
	assert.Equal(t, int64(1001), a[0].Ticket)
}

func TestGetBalanceFillsMarginLevel(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"accountNumber": 123, "currency": "USD",
			"balance": 10000.0, "equity": 10500.0, "margin": 2100.0,
		})
	}))

	snap, err := client.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 500.0, snap.MarginLevel, 1e-9)
}

func TestGetBalanceZeroMargin(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"balance": 10000.0, "equity": 10000.0, "margin": 0.0})
	}))

	snap, err := client.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.MarginLevel)
}

func TestGetAvailableSymbolsCacheThrough(t *testing.T) {
	calls := 0
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeEnvelope(w, map[string]any{"symbols": []any{map[string]any{"symbol": "BTCUSD"}}})
	}))

	first, err := client.GetAvailableSymbols(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := client.GetAvailableSymbols(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestPingBridge(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"zmq_connected": true})
	}))
	status := client.PingBridge(context.Background())
	assert.True(t, status.Connected)

	down, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{"zmq_connected": false})
	}))
	status = down.PingBridge(context.Background())
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.Error)
}

func TestBasicAuthSent(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bridge-user", user)
		assert.Equal(t, "bridge-pass", pass)
		writeEnvelope(w, map[string]any{"zmq_connected": true})
	}))
	ok, err := client.Ping(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
