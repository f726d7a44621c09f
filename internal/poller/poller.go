// Package poller tracks freshly opened MT4 tickets until they reach a
// terminal state, keeping the order cache current and publishing the close
// event exactly once.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scalpline/mt4-scalper/internal/models"
)

const (
	// DefaultInterval is the gap between status polls.
	DefaultInterval = 2 * time.Second
	// DefaultMaxAttempts bounds how long a ticket is polled (~60s total).
	DefaultMaxAttempts = 30
)

// OrderFetcher fetches a single ticket's live state.
type OrderFetcher interface {
	GetOrder(ctx context.Context, userID string, ticket int64) (*models.Order, error)
}

// ClosePublisher pushes the order-closed event to subscribers.
type ClosePublisher interface {
	PublishOrderClosed(ctx context.Context, userID string, ticket int64, profit float64, closeTime time.Time)
}

// Poller watches tickets in background goroutines. One goroutine per ticket;
// watching the same ticket twice is a no-op while the first watch is live.
type Poller struct {
	fetcher   OrderFetcher
	publisher ClosePublisher
	log       zerolog.Logger

	interval    time.Duration
	maxAttempts int

	mu      sync.Mutex
	active  map[int64]struct{}
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New builds a poller with the default cadence.
func New(fetcher OrderFetcher, publisher ClosePublisher, log zerolog.Logger) *Poller {
	return &Poller{
		fetcher:     fetcher,
		publisher:   publisher,
		log:         log.With().Str("component", "order_poller").Logger(),
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		active:      make(map[int64]struct{}),
		stop:        make(chan struct{}),
	}
}

// Watch begins polling a ticket until it closes, the attempt budget runs out,
// or the poller is stopped. Safe to call from any goroutine.
func (p *Poller) Watch(userID string, ticket int64) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, dup := p.active[ticket]; dup {
		p.mu.Unlock()
		return
	}
	p.active[ticket] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(userID, ticket)
}

func (p *Poller) run(userID string, ticket int64) {
	defer func() {
		p.mu.Lock()
		delete(p.active, ticket)
		p.mu.Unlock()
		p.wg.Done()
	}()

	log := p.log.With().Str("user_id", userID).Int64("ticket", ticket).Logger()
	log.Debug().Msg("watching ticket")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		order, err := p.fetcher.GetOrder(ctx, userID, ticket)
		cancel()
		if err != nil {
			// Transient bridge trouble; the next tick retries.
			log.Debug().Err(err).Int("attempt", attempt).Msg("order poll failed")
			continue
		}

		if order.IsClosed() {
			closeTime := time.Now().UTC()
			if order.CloseTime != nil {
				closeTime = *order.CloseTime
			}
			log.Info().
				Float64("profit", order.Profit).
				Time("close_time", closeTime).
				Msg("ticket closed")
			p.publisher.PublishOrderClosed(context.Background(), userID, ticket, order.Profit, closeTime)
			return
		}
	}

	// Still open after the budget; the monitor and reconciler own it now.
	log.Debug().Msg("ticket still open after final poll")
}

// Stop halts all watches and waits for their goroutines to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
}
