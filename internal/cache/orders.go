// Package cache is the Redis-backed order/account/symbol cache and the
// order_closed pub/sub channel other subsystems observe. Every write path
// degrades silently: the bridge is authoritative, the cache is advisory.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// Cache keyspace and TTLs.
const (
	orderKeyPrefix   = "mt4_order:"   // mt4_order:<ticket> -> Order JSON
	ordersKeyPrefix  = "mt4_orders:"  // mt4_orders:<symbol> -> ZSET of tickets
	accountKeyPrefix = "mt4_account:" // mt4_account:<userId> -> AccountSnapshot JSON
	symbolsKeyPrefix = "mt4_symbols:" // mt4_symbols:<userId> -> SymbolInfo list JSON

	orderTTL   = time.Hour
	accountTTL = 5 * time.Minute
	symbolsTTL = time.Hour
)

// OrderChannel is the per-user pub/sub channel for close events.
func OrderChannel(userID string) string {
	return orderKeyPrefix + userID
}

// OrderClosedEvent is the close-event payload published on OrderChannel.
type OrderClosedEvent struct {
	Type      string    `json:"type"`
	Ticket    int64     `json:"ticket"`
	Profit    float64   `json:"profit"`
	CloseTime time.Time `json:"closeTime"`
}

// OrderCache is the write-through cache over Redis plus a bounded in-process
// LRU for hot tickets.
type OrderCache struct {
	rdb redis.UniversalClient
	lru *orderLRU
	log zerolog.Logger
}

// New builds an OrderCache. maxOrders bounds the in-process map; pass 0 for
// DefaultMaxOrders.
func New(rdb redis.UniversalClient, maxOrders int, log zerolog.Logger) *OrderCache {
	return &OrderCache{
		rdb: rdb,
		lru: newOrderLRU(maxOrders),
		log: log.With().Str("component", "order_cache").Logger(),
	}
}

// StoreOrder writes an order to the LRU, the per-ticket key, and the
// symbol-scoped sorted set (scored by write time).
func (c *OrderCache) StoreOrder(ctx context.Context, o *models.Order) {
	c.lru.put(o)

	payload, err := json.Marshal(o)
	if err != nil {
		c.log.Warn().Err(err).Int64("ticket", o.Ticket).Msg("failed to encode order for cache")
		return
	}

	key := fmt.Sprintf("%s%d", orderKeyPrefix, o.Ticket)
	if err := c.rdb.Set(ctx, key, payload, orderTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("order cache write failed")
	}

	zkey := ordersKeyPrefix + o.Symbol
	member := fmt.Sprintf("%d", o.Ticket)
	if err := c.rdb.ZAdd(ctx, zkey, redis.Z{Score: float64(time.Now().Unix()), Member: member}).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", zkey).Msg("order index write failed")
	}
}

// GetOrder reads through the LRU first, falling back to Redis. A Redis hit
// repopulates the LRU.
func (c *OrderCache) GetOrder(ctx context.Context, ticket int64) (*models.Order, bool) {
	if o, ok := c.lru.get(ticket); ok {
		return o, true
	}

	raw, err := c.rdb.Get(ctx, fmt.Sprintf("%s%d", orderKeyPrefix, ticket)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Int64("ticket", ticket).Msg("order cache read failed")
		}
		return nil, false
	}

	var o models.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		c.log.Warn().Err(err).Int64("ticket", ticket).Msg("corrupt cached order")
		return nil, false
	}
	c.lru.put(&o)
	return &o, true
}

// TicketsForSymbol returns the cached tickets for a broker symbol, most
// recently written last.
func (c *OrderCache) TicketsForSymbol(ctx context.Context, symbol string) []int64 {
	members, err := c.rdb.ZRange(ctx, ordersKeyPrefix+symbol, 0, -1).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("order index read failed")
		}
		return nil
	}
	tickets := make([]int64, 0, len(members))
	for _, m := range members {
		var t int64
		if _, serr := fmt.Sscanf(m, "%d", &t); serr == nil {
			tickets = append(tickets, t)
		}
	}
	return tickets
}

// StoreAccount caches an account snapshot for five minutes.
func (c *OrderCache) StoreAccount(ctx context.Context, userID string, snap *models.AccountSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("failed to encode account snapshot")
		return
	}
	if err := c.rdb.Set(ctx, accountKeyPrefix+userID, payload, accountTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("account cache write failed")
	}
}

// Account returns the cached snapshot, if any.
func (c *OrderCache) Account(ctx context.Context, userID string) (*models.AccountSnapshot, bool) {
	raw, err := c.rdb.Get(ctx, accountKeyPrefix+userID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("account cache read failed")
		}
		return nil, false
	}
	var snap models.AccountSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// StoreSymbols caches the symbol list for an hour.
func (c *OrderCache) StoreSymbols(ctx context.Context, userID string, infos []models.SymbolInfo) {
	payload, err := json.Marshal(infos)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("failed to encode symbol list")
		return
	}
	if err := c.rdb.Set(ctx, symbolsKeyPrefix+userID, payload, symbolsTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("symbol cache write failed")
	}
}

// Symbols returns the cached symbol list, if any.
func (c *OrderCache) Symbols(ctx context.Context, userID string) ([]models.SymbolInfo, bool) {
	raw, err := c.rdb.Get(ctx, symbolsKeyPrefix+userID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("symbol cache read failed")
		}
		return nil, false
	}
	var infos []models.SymbolInfo
	if err := json.Unmarshal([]byte(raw), &infos); err != nil {
		return nil, false
	}
	return infos, true
}

// PublishOrderClosed emits an order_closed event on the user's channel.
// Fire-and-forget: delivery failures are logged and dropped.
func (c *OrderCache) PublishOrderClosed(ctx context.Context, userID string, ticket int64, profit float64, closeTime time.Time) {
	ev := OrderClosedEvent{
		Type:      "order_closed",
		Ticket:    ticket,
		Profit:    profit,
		CloseTime: closeTime,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn().Err(err).Int64("ticket", ticket).Msg("failed to encode close event")
		return
	}
	if err := c.rdb.Publish(ctx, OrderChannel(userID), payload).Err(); err != nil {
		c.log.Warn().Err(err).Str("channel", OrderChannel(userID)).Msg("close event publish failed")
	}
}

// CachedOrders reports the size of the in-process map, for status endpoints.
func (c *OrderCache) CachedOrders() int {
	return c.lru.len()
}
