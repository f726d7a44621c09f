package cache

import (
	"sync"
	"time"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// DefaultMaxOrders bounds the in-process order map. The legacy map was
// unbounded and grew for the life of the process.
const DefaultMaxOrders = 1000

// orderLRU is a bounded in-process order map with oldest-access eviction.
// The entry map and the access-time map are mutated together under one lock:
// no ticket may exist in one and not the other.
type orderLRU struct {
	mu      sync.Mutex
	max     int
	entries map[int64]*models.Order
	access  map[int64]time.Time
	now     func() time.Time
}

func newOrderLRU(max int) *orderLRU {
	if max <= 0 {
		max = DefaultMaxOrders
	}
	return &orderLRU{
		max:     max,
		entries: make(map[int64]*models.Order, max),
		access:  make(map[int64]time.Time, max),
		now:     time.Now,
	}
}

// put inserts or refreshes an order, evicting the oldest-accessed entry when
// the map is full. A copy is stored so later caller mutations cannot reach
// the cached value.
func (l *orderLRU) put(o *models.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[o.Ticket]; !exists && len(l.entries) >= l.max {
		l.evictOldestLocked()
	}
	cp := *o
	l.entries[o.Ticket] = &cp
	l.access[o.Ticket] = l.now()
}

// get returns a copy of the cached order and bumps its access time on hit.
func (l *orderLRU) get(ticket int64) (*models.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.entries[ticket]
	if !ok {
		return nil, false
	}
	l.access[ticket] = l.now()
	cp := *o
	return &cp, true
}

func (l *orderLRU) remove(ticket int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ticket)
	delete(l.access, ticket)
}

func (l *orderLRU) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *orderLRU) evictOldestLocked() {
	var oldest int64
	var oldestAt time.Time
	first := true
	for ticket, at := range l.access {
		if first || at.Before(oldestAt) {
			oldest, oldestAt = ticket, at
			first = false
		}
	}
	if !first {
		delete(l.entries, oldest)
		delete(l.access, oldest)
	}
}
