package monitor

import (
	"sync"
	"time"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// Registry is the in-memory set of positions the monitor is responsible for,
// keyed by tradeId. Iteration takes a snapshot so a tick never races with
// Add or Remove.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*models.MonitoredPosition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{positions: make(map[string]*models.MonitoredPosition)}
}

// Add inserts a position. Idempotent by tradeId: a second Add for the same
// tradeId leaves the existing entry untouched.
func (r *Registry) Add(pos models.MonitoredPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.positions[pos.TradeID]; exists {
		return
	}
	cp := pos
	r.positions[pos.TradeID] = &cp
}

// Remove drops a tradeId. No-op if absent.
func (r *Registry) Remove(tradeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, tradeID)
}

// Get returns a copy of the entry for a tradeId.
func (r *Registry) Get(tradeID string) (models.MonitoredPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[tradeID]
	if !ok {
		return models.MonitoredPosition{}, false
	}
	return *pos, true
}

// Touch records live price and check time for a tradeId.
func (r *Registry) Touch(tradeID string, currentPrice float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos, ok := r.positions[tradeID]; ok {
		pos.CurrentPrice = currentPrice
		pos.LastCheckTime = at
	}
}

// Snapshot returns copies of all entries for tick fan-out.
func (r *Registry) Snapshot() []models.MonitoredPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.MonitoredPosition, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, *pos)
	}
	return out
}

// Len reports the number of tracked positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}
