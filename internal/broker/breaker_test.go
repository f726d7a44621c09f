package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// failingBroker fails every call with the configured error.
type failingBroker struct {
	Broker
	err   error
	calls int
}

func (f *failingBroker) Ping(context.Context, string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func newTripSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

func TestBreakerTripsOnTransportFailures(t *testing.T) {
	inner := &failingBroker{err: errors.New("connection refused")}
	cb := NewCircuitBreakerBrokerWithSettings(inner, newTripSettings(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := cb.Ping(context.Background(), "user-1")
		require.Error(t, err)
	}

	// Circuit is open now; the inner broker stops seeing calls.
	_, err := cb.Ping(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerIgnoresBusinessOutcomes(t *testing.T) {
	inner := &failingBroker{err: fmt.Errorf("wrap: %w", ErrPositionAlreadyClosed)}
	cb := NewCircuitBreakerBrokerWithSettings(inner, newTripSettings(), zerolog.Nop())

	// Stale-ticket failures are not bridge health signals; the circuit
	// stays closed no matter how many occur.
	for i := 0; i < 10; i++ {
		_, err := cb.Ping(context.Background(), "user-1")
		require.Error(t, err)
	}
	assert.Equal(t, 10, inner.calls)
}

func TestBreakerPingBridgeBypassesCircuit(t *testing.T) {
	inner := &stubStatusBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(inner, newTripSettings(), zerolog.Nop())

	status := cb.PingBridge(context.Background())
	require.NotNil(t, status)
	assert.True(t, status.Connected)
}

type stubStatusBroker struct {
	Broker
}

func (s *stubStatusBroker) PingBridge(context.Context) *models.BridgeStatus {
	return &models.BridgeStatus{Connected: true}
}
