package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// CircuitBreakerBroker wraps a Broker so a misbehaving bridge sheds load
// instead of stacking timed-out requests. Monitor ticks treat an open
// circuit like any other per-position failure: logged, never fatal.
type CircuitBreakerBroker struct {
	inner   Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// BreakerSettings configures circuit breaker behavior.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings trips after a 60% failure rate over at least five
// requests and holds the circuit open for 30 seconds.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerBroker wraps inner with DefaultBreakerSettings.
func NewCircuitBreakerBroker(inner Broker, log zerolog.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(inner, DefaultBreakerSettings, log)
}

// NewCircuitBreakerBrokerWithSettings wraps inner with custom settings.
func NewCircuitBreakerBrokerWithSettings(inner Broker, settings BreakerSettings, log zerolog.Logger) *CircuitBreakerBroker {
	blog := log.With().Str("component", "bridge_breaker").Logger()
	return &CircuitBreakerBroker{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "MT4BridgeBreaker",
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < settings.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				blog.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
			IsSuccessful: func(err error) bool {
				// Validation and stale-ticket failures are business outcomes,
				// not bridge health signals.
				if errors.Is(err, ErrSymbolUnavailable) || errors.Is(err, ErrInvalidVolume) || IsAlreadyClosed(err) {
					return true
				}
				return err == nil
			},
		}),
	}
}

func exec[T any](b *CircuitBreakerBroker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.breaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		return zero, err
	}
	// A nil slice or pointer result arrives as an untyped nil.
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func (b *CircuitBreakerBroker) CreateMarketOrder(ctx context.Context, userID, universalSymbol string, side models.Side,
	volume, stopLoss, takeProfit float64) (*models.Order, error) {
	return exec(b, func() (*models.Order, error) {
		return b.inner.CreateMarketOrder(ctx, userID, universalSymbol, side, volume, stopLoss, takeProfit)
	})
}

func (b *CircuitBreakerBroker) ClosePosition(ctx context.Context, userID string, ticket int64, volume float64) (*models.Order, error) {
	return exec(b, func() (*models.Order, error) {
		return b.inner.ClosePosition(ctx, userID, ticket, volume)
	})
}

func (b *CircuitBreakerBroker) CloseAllPositions(ctx context.Context, userID, universalSymbol string) (*models.CloseAllResult, error) {
	return exec(b, func() (*models.CloseAllResult, error) {
		return b.inner.CloseAllPositions(ctx, userID, universalSymbol)
	})
}

func (b *CircuitBreakerBroker) ModifyStopLoss(ctx context.Context, userID string, ticket int64, stopLoss, takeProfit *float64) (*models.Order, error) {
	return exec(b, func() (*models.Order, error) {
		return b.inner.ModifyStopLoss(ctx, userID, ticket, stopLoss, takeProfit)
	})
}

func (b *CircuitBreakerBroker) GetOpenPositions(ctx context.Context, userID, universalSymbol string) ([]models.Order, error) {
	return exec(b, func() ([]models.Order, error) {
		return b.inner.GetOpenPositions(ctx, userID, universalSymbol)
	})
}

func (b *CircuitBreakerBroker) GetOrder(ctx context.Context, userID string, ticket int64) (*models.Order, error) {
	return exec(b, func() (*models.Order, error) {
		return b.inner.GetOrder(ctx, userID, ticket)
	})
}

func (b *CircuitBreakerBroker) GetBalance(ctx context.Context, userID string) (*models.AccountSnapshot, error) {
	return exec(b, func() (*models.AccountSnapshot, error) {
		return b.inner.GetBalance(ctx, userID)
	})
}

func (b *CircuitBreakerBroker) GetAvailableSymbols(ctx context.Context, userID string) ([]models.SymbolInfo, error) {
	return exec(b, func() ([]models.SymbolInfo, error) {
		return b.inner.GetAvailableSymbols(ctx, userID)
	})
}

func (b *CircuitBreakerBroker) GetPrice(ctx context.Context, userID, universalSymbol string) (*models.PriceQuote, error) {
	return exec(b, func() (*models.PriceQuote, error) {
		return b.inner.GetPrice(ctx, userID, universalSymbol)
	})
}

func (b *CircuitBreakerBroker) Ping(ctx context.Context, userID string) (bool, error) {
	return exec(b, func() (bool, error) {
		return b.inner.Ping(ctx, userID)
	})
}

// PingBridge bypasses the breaker: health checks must observe the bridge
// even while the circuit is open.
func (b *CircuitBreakerBroker) PingBridge(ctx context.Context) *models.BridgeStatus {
	return b.inner.PingBridge(ctx)
}

func (b *CircuitBreakerBroker) CalculateLotSize(ctx context.Context, userID, universalSymbol string, usdtAmount float64,
	stopLossPrice, entryPrice float64) float64 {
	return b.inner.CalculateLotSize(ctx, userID, universalSymbol, usdtAmount, stopLossPrice, entryPrice)
}
