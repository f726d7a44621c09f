package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalpline/mt4-scalper/internal/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	results []func() (*models.Order, error)
}

func (f *fakeFetcher) GetOrder(_ context.Context, _ string, ticket int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []struct {
		ticket int64
		profit float64
	}
}

func (p *fakePublisher) PublishOrderClosed(_ context.Context, _ string, ticket int64, profit float64, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, struct {
		ticket int64
		profit float64
	}{ticket, profit})
}

func (p *fakePublisher) eventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func openOrder(ticket int64) func() (*models.Order, error) {
	return func() (*models.Order, error) {
		return &models.Order{Ticket: ticket, Status: models.OrderStatusOpen}, nil
	}
}

func closedOrder(ticket int64, profit float64) func() (*models.Order, error) {
	return func() (*models.Order, error) {
		now := time.Now().UTC()
		return &models.Order{
			Ticket:    ticket,
			Status:    models.OrderStatusClosed,
			Profit:    profit,
			CloseTime: &now,
		}, nil
	}
}

func newTestPoller(f *fakeFetcher, pub *fakePublisher, maxAttempts int) *Poller {
	p := New(f, pub, zerolog.Nop())
	p.interval = 2 * time.Millisecond
	p.maxAttempts = maxAttempts
	return p
}

func TestWatchPublishesOnceOnClose(t *testing.T) {
	fetcher := &fakeFetcher{results: []func() (*models.Order, error){
		openOrder(101),
		openOrder(101),
		closedOrder(101, 12.5),
	}}
	pub := &fakePublisher{}
	p := newTestPoller(fetcher, pub, 30)

	p.Watch("user-1", 101)
	p.wg.Wait()

	require.Equal(t, 1, pub.eventCount())
	assert.Equal(t, int64(101), pub.events[0].ticket)
	assert.Equal(t, 12.5, pub.events[0].profit)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestWatchGivesUpAfterMaxAttempts(t *testing.T) {
	fetcher := &fakeFetcher{results: []func() (*models.Order, error){openOrder(102)}}
	pub := &fakePublisher{}
	p := newTestPoller(fetcher, pub, 5)

	p.Watch("user-1", 102)
	p.wg.Wait()

	assert.Equal(t, 0, pub.eventCount())
	assert.Equal(t, 5, fetcher.callCount())
}

func TestWatchToleratesFetchErrors(t *testing.T) {
	fetcher := &fakeFetcher{results: []func() (*models.Order, error){
		func() (*models.Order, error) { return nil, errors.New("bridge hiccup") },
		closedOrder(103, -4.0),
	}}
	pub := &fakePublisher{}
	p := newTestPoller(fetcher, pub, 30)

	p.Watch("user-1", 103)
	p.wg.Wait()

	require.Equal(t, 1, pub.eventCount())
	assert.Equal(t, -4.0, pub.events[0].profit)
}

func TestWatchDeduplicatesTickets(t *testing.T) {
	fetcher := &fakeFetcher{results: []func() (*models.Order, error){
		openOrder(104),
		openOrder(104),
		openOrder(104),
		closedOrder(104, 1.0),
	}}
	pub := &fakePublisher{}
	p := newTestPoller(fetcher, pub, 30)

	p.Watch("user-1", 104)
	p.Watch("user-1", 104)
	p.wg.Wait()

	assert.Equal(t, 1, pub.eventCount())
}

func TestStopHaltsWatches(t *testing.T) {
	fetcher := &fakeFetcher{results: []func() (*models.Order, error){openOrder(105)}}
	pub := &fakePublisher{}
	p := newTestPoller(fetcher, pub, 1000)

	p.Watch("user-1", 105)
	time.Sleep(10 * time.Millisecond)
	p.Stop()

	assert.Equal(t, 0, pub.eventCount())

	// Watch after Stop is a no-op.
	before := fetcher.callCount()
	p.Watch("user-1", 106)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, fetcher.callCount())
}
