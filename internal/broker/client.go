package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/scalpline/mt4-scalper/internal/metrics"
	"github.com/scalpline/mt4-scalper/internal/models"
)

// Broker is the operation set exposed to the rest of the system. Every
// operation is idempotent in intent: a failed or retried call must not
// silently duplicate an order.
type Broker interface {
	CreateMarketOrder(ctx context.Context, userID, universalSymbol string, side models.Side,
		volume, stopLoss, takeProfit float64) (*models.Order, error)
	ClosePosition(ctx context.Context, userID string, ticket int64, volume float64) (*models.Order, error)
	CloseAllPositions(ctx context.Context, userID, universalSymbol string) (*models.CloseAllResult, error)
	ModifyStopLoss(ctx context.Context, userID string, ticket int64, stopLoss, takeProfit *float64) (*models.Order, error)
	GetOpenPositions(ctx context.Context, userID, universalSymbol string) ([]models.Order, error)
	GetOrder(ctx context.Context, userID string, ticket int64) (*models.Order, error)
	GetBalance(ctx context.Context, userID string) (*models.AccountSnapshot, error)
	GetAvailableSymbols(ctx context.Context, userID string) ([]models.SymbolInfo, error)
	GetPrice(ctx context.Context, userID, universalSymbol string) (*models.PriceQuote, error)
	Ping(ctx context.Context, userID string) (bool, error)
	PingBridge(ctx context.Context) *models.BridgeStatus
	CalculateLotSize(ctx context.Context, userID, universalSymbol string, usdtAmount float64,
		stopLossPrice, entryPrice float64) float64
}

// SymbolMapper resolves a universal symbol (e.g. BTCUSDT) to the broker's
// symbol. ok is false when the broker does not list the instrument.
type SymbolMapper interface {
	BrokerSymbol(universal string) (string, bool)
}

// OrderStore is the write-through cache and close-event channel the client
// feeds. Implementations must degrade silently: the bridge, not the cache,
// is authoritative.
type OrderStore interface {
	StoreOrder(ctx context.Context, o *models.Order)
	StoreAccount(ctx context.Context, userID string, snap *models.AccountSnapshot)
	StoreSymbols(ctx context.Context, userID string, infos []models.SymbolInfo)
	Symbols(ctx context.Context, userID string) ([]models.SymbolInfo, bool)
	PublishOrderClosed(ctx context.Context, userID string, ticket int64, profit float64, closeTime time.Time)
}

// OrderWatcher starts terminal-status polling for a newly opened ticket.
type OrderWatcher interface {
	Watch(userID string, ticket int64)
}

// LotSizing is the fixed-lot policy. LLM-derived position sizes proved
// unstable, so every order uses the configured default clamped into
// [Min, Max] and floor-quantized to two decimals.
type LotSizing struct {
	Default float64
	Min     float64
	Max     float64
}

// DefaultLotSizing mirrors the MT4_*_LOT_SIZE configuration defaults.
var DefaultLotSizing = LotSizing{Default: 0.10, Min: 0.01, Max: 1.0}

// minVolume is the broker's smallest tradeable lot.
const minVolume = 0.01

// Client implements Broker against the bridge HTTP API. A single shared
// client is correct because the bridge is account-scoped; userID travels
// only into logs, cache keys, and magic numbers.
type Client struct {
	api     *API
	mapper  SymbolMapper
	store   OrderStore
	watcher OrderWatcher
	policy  RetryPolicy
	lots    LotSizing
	log     zerolog.Logger
}

var _ Broker = (*Client)(nil)

// NewClient wires the bridge client. watcher may be attached later with
// SetWatcher when the poller depends on this client.
func NewClient(api *API, mapper SymbolMapper, store OrderStore, policy RetryPolicy, lots LotSizing, log zerolog.Logger) *Client {
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy
	}
	if lots.Default <= 0 {
		lots = DefaultLotSizing
	}
	return &Client{
		api:    api,
		mapper: mapper,
		store:  store,
		policy: policy,
		lots:   lots,
		log:    log.With().Str("component", "mt4_client").Logger(),
	}
}

// SetWatcher attaches the order poller. Called once during wiring.
func (c *Client) SetWatcher(w OrderWatcher) { c.watcher = w }

// MagicNumber derives the 6-digit MT4 magic-number tag for a user. It is
// deterministic so independent subsystems can attribute terminal positions
// back to an agent without a bridge-side mapping table; collisions are
// tolerable at the scale of one broker account.
func MagicNumber(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return 100000 + int(h.Sum32()%900000)
}

// CreateMarketOrder submits a market order tagged with the user's magic
// number, writes it through the cache, and schedules terminal-status polling.
func (c *Client) CreateMarketOrder(ctx context.Context, userID, universalSymbol string, side models.Side,
	volume, stopLoss, takeProfit float64) (*models.Order, error) {
	const op = "createMarketOrder"

	if volume < minVolume {
		return nil, fmt.Errorf("%w: got %.3f", ErrInvalidVolume, volume)
	}

	brokerSymbol, ok := c.mapper.BrokerSymbol(universalSymbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolUnavailable, universalSymbol)
	}

	req := createOrderRequest{
		Symbol:      brokerSymbol,
		Side:        sideToWire(side),
		Volume:      volume,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
		MagicNumber: MagicNumber(userID),
	}

	var wire *wireOrder
	err := withRetry(ctx, c.policy, c.log, op, func() error {
		metrics.BridgeRequests.WithLabelValues(op).Inc()
		w, err := c.api.createOrder(ctx, req)
		if err != nil {
			metrics.BridgeFailures.WithLabelValues(op).Inc()
			return err
		}
		wire = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("order failed: %w", err)
	}

	order := wire.toOrder()
	// The create response may be sparse; backfill from the request.
	if order.Symbol == "" {
		order.Symbol = brokerSymbol
	}
	if order.Side == "" {
		order.Side = side
	}
	if order.Volume == 0 {
		order.Volume = volume
	}
	if order.MagicNumber == 0 {
		order.MagicNumber = req.MagicNumber
	}
	if order.OpenTime.IsZero() {
		order.OpenTime = time.Now().UTC()
	}

	c.store.StoreOrder(ctx, order)
	if c.watcher != nil {
		c.watcher.Watch(userID, order.Ticket)
	}

	c.log.Info().Str("user_id", userID).Int64("ticket", order.Ticket).
		Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Float64("volume", order.Volume).Int("magic", order.MagicNumber).
		Msg("market order created")
	return order, nil
}

// ClosePosition closes an open ticket (volume 0 = full close). The ticket is
// pre-validated against the bridge's open-positions list so a stale close
// fails fast instead of burning the retry budget.
func (c *Client) ClosePosition(ctx context.Context, userID string, ticket int64, volume float64) (*models.Order, error) {
	const op = "closePosition"

	live, err := c.api.openOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%s: verifying open positions: %w", op, err)
	}
	var current *wireOrder
	for i := range live {
		if live[i].Ticket == ticket {
			current = &live[i]
			break
		}
	}
	if current == nil {
		return nil, fmt.Errorf("%w: ticket %d not in open positions (error code: %d)",
			ErrPositionAlreadyClosed, ticket, CodeInvalidTicket)
	}

	var wire *wireOrder
	err = withRetry(ctx, c.policy, c.log, op, func() error {
		metrics.BridgeRequests.WithLabelValues(op).Inc()
		w, cerr := c.api.closeOrder(ctx, ticket, volume)
		if cerr != nil {
			metrics.BridgeFailures.WithLabelValues(op).Inc()
			return cerr
		}
		wire = w
		return nil
	})
	if err != nil {
		if IsAlreadyClosed(err) {
			return nil, fmt.Errorf("%w: ticket %d", ErrPositionAlreadyClosed, ticket)
		}
		return nil, err
	}

	order := wire.toOrder()
	if order.Ticket == 0 {
		order.Ticket = ticket
	}
	// Backfill from the live snapshot: close responses are minimal.
	if order.Symbol == "" {
		order.Symbol = current.Symbol
	}
	if order.Side == "" {
		order.Side = models.Side(strings.ToLower(current.Side))
	}
	if order.Volume == 0 {
		order.Volume = current.Volume
	}
	if order.OpenPrice == 0 {
		order.OpenPrice = current.OpenPrice
	}
	if order.Profit == 0 {
		order.Profit = current.Profit
	}
	order.MarkClosed(time.Now().UTC())

	c.store.StoreOrder(ctx, order)
	c.store.PublishOrderClosed(ctx, userID, order.Ticket, order.Profit, *order.CloseTime)

	c.log.Info().Str("user_id", userID).Int64("ticket", order.Ticket).
		Float64("profit", order.Profit).Msg("position closed")
	return order, nil
}

// CloseAllPositions closes every position, optionally scoped to one symbol.
// No retry loop beyond the transport layer: the bridge is authoritative for
// the closed/failed counts.
func (c *Client) CloseAllPositions(ctx context.Context, userID, universalSymbol string) (*models.CloseAllResult, error) {
	brokerSymbol := ""
	if universalSymbol != "" {
		resolved, ok := c.mapper.BrokerSymbol(universalSymbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbolUnavailable, universalSymbol)
		}
		brokerSymbol = resolved
	}

	metrics.BridgeRequests.WithLabelValues("closeAllPositions").Inc()
	result, err := c.api.closeAll(ctx, brokerSymbol)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("closeAllPositions").Inc()
		return nil, err
	}

	c.log.Info().Str("user_id", userID).Str("symbol", brokerSymbol).
		Int("closed", result.Closed).Int("failed", result.Failed).
		Float64("total_profit", result.TotalProfit).Msg("close-all completed")
	return result, nil
}

// ModifyStopLoss updates SL/TP on an open ticket. Nil fields mean "do not
// change".
func (c *Client) ModifyStopLoss(ctx context.Context, userID string, ticket int64, stopLoss, takeProfit *float64) (*models.Order, error) {
	const op = "modifyStopLoss"

	var wire *wireOrder
	err := withRetry(ctx, c.policy, c.log, op, func() error {
		metrics.BridgeRequests.WithLabelValues(op).Inc()
		w, merr := c.api.modifyOrder(ctx, ticket, modifyOrderRequest{StopLoss: stopLoss, TakeProfit: takeProfit})
		if merr != nil {
			metrics.BridgeFailures.WithLabelValues(op).Inc()
			return merr
		}
		wire = w
		return nil
	})
	if err != nil {
		if IsAlreadyClosed(err) {
			return nil, fmt.Errorf("%w: ticket %d", ErrPositionAlreadyClosed, ticket)
		}
		return nil, err
	}

	order := wire.toOrder()
	if order.Ticket == 0 {
		order.Ticket = ticket
	}
	c.store.StoreOrder(ctx, order)

	c.log.Info().Str("user_id", userID).Int64("ticket", ticket).Msg("stop loss modified")
	return order, nil
}

// GetOpenPositions lists live positions, optionally filtered by universal
// symbol, and caches each.
func (c *Client) GetOpenPositions(ctx context.Context, userID, universalSymbol string) ([]models.Order, error) {
	brokerSymbol := ""
	if universalSymbol != "" {
		resolved, ok := c.mapper.BrokerSymbol(universalSymbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbolUnavailable, universalSymbol)
		}
		brokerSymbol = resolved
	}

	metrics.BridgeRequests.WithLabelValues("getOpenPositions").Inc()
	wires, err := c.api.openOrders(ctx, brokerSymbol)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("getOpenPositions").Inc()
		return nil, err
	}

	orders := make([]models.Order, 0, len(wires))
	for i := range wires {
		o := wires[i].toOrder()
		c.store.StoreOrder(ctx, o)
		orders = append(orders, *o)
	}
	return orders, nil
}

// GetOrder fetches a single ticket's state and refreshes the cache.
func (c *Client) GetOrder(ctx context.Context, userID string, ticket int64) (*models.Order, error) {
	metrics.BridgeRequests.WithLabelValues("getOrder").Inc()
	wire, err := c.api.order(ctx, ticket)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("getOrder").Inc()
		return nil, err
	}
	order := wire.toOrder()
	if order.Ticket == 0 {
		order.Ticket = ticket
	}
	c.store.StoreOrder(ctx, order)
	return order, nil
}

// GetBalance fetches the account snapshot, filling marginLevel locally.
func (c *Client) GetBalance(ctx context.Context, userID string) (*models.AccountSnapshot, error) {
	metrics.BridgeRequests.WithLabelValues("getBalance").Inc()
	acct, err := c.api.accountInfo(ctx)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("getBalance").Inc()
		return nil, err
	}

	snap := &models.AccountSnapshot{
		AccountNumber: acct.AccountNumber,
		Broker:        acct.Broker,
		Currency:      acct.Currency,
		Balance:       acct.Balance,
		Equity:        acct.Equity,
		Margin:        acct.Margin,
		FreeMargin:    acct.FreeMargin,
		Profit:        acct.Profit,
	}
	snap.FillMarginLevel()
	c.store.StoreAccount(ctx, userID, snap)
	return snap, nil
}

// GetAvailableSymbols is cache-through with the cache's one-hour TTL.
func (c *Client) GetAvailableSymbols(ctx context.Context, userID string) ([]models.SymbolInfo, error) {
	if cached, ok := c.store.Symbols(ctx, userID); ok {
		return cached, nil
	}

	metrics.BridgeRequests.WithLabelValues("getAvailableSymbols").Inc()
	infos, err := c.api.symbols(ctx)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("getAvailableSymbols").Inc()
		return nil, err
	}
	c.store.StoreSymbols(ctx, userID, infos)
	return infos, nil
}

// GetPrice returns a live quote. Deliberately uncached.
func (c *Client) GetPrice(ctx context.Context, userID, universalSymbol string) (*models.PriceQuote, error) {
	brokerSymbol, ok := c.mapper.BrokerSymbol(universalSymbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolUnavailable, universalSymbol)
	}

	metrics.BridgeRequests.WithLabelValues("getPrice").Inc()
	p, err := c.api.price(ctx, brokerSymbol)
	if err != nil {
		metrics.BridgeFailures.WithLabelValues("getPrice").Inc()
		return nil, err
	}
	return &models.PriceQuote{Symbol: p.Symbol, Bid: p.Bid, Ask: p.Ask, Spread: p.Spread}, nil
}

// Ping reports bridge liveness for a user-scoped health probe.
func (c *Client) Ping(ctx context.Context, userID string) (bool, error) {
	p, err := c.api.ping(ctx)
	if err != nil {
		return false, err
	}
	return p.ZMQConnected, nil
}

// PingBridge is the only call that must work without any user record; it is
// used by process health checks. Connected is true only when the bridge
// reports zmq_connected.
func (c *Client) PingBridge(ctx context.Context) *models.BridgeStatus {
	status := &models.BridgeStatus{BridgeURL: c.api.BaseURL()}
	p, err := c.api.ping(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = p.ZMQConnected
	if !p.ZMQConnected {
		status.Error = "bridge reachable but ZeroMQ link down"
	}
	return status
}

// CalculateLotSize applies the fixed-lot policy. usdtAmount and the price
// arguments are accepted for caller compatibility but do not participate in
// sizing.
func (c *Client) CalculateLotSize(ctx context.Context, userID, universalSymbol string, usdtAmount float64,
	stopLossPrice, entryPrice float64) float64 {
	return ClampLotSize(c.lots.Default, c.lots)
}

// ClampLotSize clamps a lot size into [Min, Max] and floor-quantizes it to
// two decimals.
func ClampLotSize(lot float64, lots LotSizing) float64 {
	d := decimal.NewFromFloat(lot)
	minLot := decimal.NewFromFloat(lots.Min)
	maxLot := decimal.NewFromFloat(lots.Max)

	if d.LessThan(minLot) {
		d = minLot
	}
	if d.GreaterThan(maxLot) {
		d = maxLot
	}
	d = d.Mul(decimal.NewFromInt(100)).Floor().Div(decimal.NewFromInt(100))

	out, _ := d.Float64()
	return out
}

func sideToWire(s models.Side) string {
	if s == models.SideSell {
		return "SELL"
	}
	return "BUY"
}
