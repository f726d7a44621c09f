// Package monitor runs the periodic exit-decision loop over open positions.
// Each tick fans out one goroutine per registered position, walks the policy
// gates in order, and dispatches closes through the broker client.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scalpline/mt4-scalper/internal/metrics"
	"github.com/scalpline/mt4-scalper/internal/models"
	"github.com/scalpline/mt4-scalper/internal/notify"
	"github.com/scalpline/mt4-scalper/internal/signal"
	"github.com/scalpline/mt4-scalper/internal/storage"
)

// DefaultTickInterval separates monitor passes.
const DefaultTickInterval = 60 * time.Second

// Broker is the subset of broker operations the monitor needs.
type Broker interface {
	GetOpenPositions(ctx context.Context, userID, universalSymbol string) ([]models.Order, error)
	ClosePosition(ctx context.Context, userID string, ticket int64, volume float64) (*models.Order, error)
}

// Monitor owns the position registry and the per-tick exit decision.
type Monitor struct {
	registry *Registry
	broker   Broker
	store    storage.Interface
	signals  signal.Generator
	notifier notify.Notifier
	log      zerolog.Logger

	// inflight guards against overlapping ticks for one tradeId. An entry
	// present means a previous tick is still working that position; the
	// current tick skips it.
	inflight sync.Map

	now func() time.Time
}

// New wires a monitor. notifier may be nil; exits then skip notification.
func New(registry *Registry, b Broker, store storage.Interface, gen signal.Generator,
	notifier notify.Notifier, log zerolog.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		broker:   b,
		store:    store,
		signals:  gen,
		notifier: notifier,
		log:      log.With().Str("component", "position_monitor").Logger(),
		now:      time.Now,
	}
}

// AddPosition registers a position for monitoring. Idempotent by tradeId.
func (m *Monitor) AddPosition(pos models.MonitoredPosition) {
	if pos.EntryTime.IsZero() {
		pos.EntryTime = m.now().UTC()
	}
	m.registry.Add(pos)
	m.log.Info().
		Str("trade_id", pos.TradeID).
		Str("symbol", pos.Symbol).
		Int64("ticket", pos.MT4Ticket).
		Msg("position registered for monitoring")
}

// RemovePosition deregisters a tradeId. No-op if absent.
func (m *Monitor) RemovePosition(tradeID string) {
	m.registry.Remove(tradeID)
}

// MonitorAll runs one tick: snapshot the registry, fan out, await all.
// Per-position errors are logged at the position boundary; the tick itself
// never fails.
func (m *Monitor) MonitorAll(ctx context.Context) {
	metrics.MonitorTicks.Inc()
	positions := m.registry.Snapshot()
	if len(positions) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			if _, busy := m.inflight.LoadOrStore(pos.TradeID, struct{}{}); busy {
				m.log.Debug().Str("trade_id", pos.TradeID).Msg("previous tick still running, skipping")
				return nil
			}
			defer m.inflight.Delete(pos.TradeID)

			if err := m.checkPosition(gctx, &pos); err != nil {
				m.log.Error().Err(err).Str("trade_id", pos.TradeID).Msg("position check failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// checkPosition walks the gates for one position, strictly in order.
func (m *Monitor) checkPosition(ctx context.Context, pos *models.MonitoredPosition) error {
	log := m.log.With().Str("trade_id", pos.TradeID).Int64("ticket", pos.MT4Ticket).Logger()

	// Gate 1: scope. Only BTCUSDT Fibonacci-scalping entries are monitored.
	if !inScope(pos) {
		return nil
	}

	// Gate 2: persistent liveness. The MT4 trade manager owns status; a
	// document that is gone or no longer open means the position is done.
	doc, err := m.store.GetPositionByTicket(pos.MT4Ticket)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info().Msg("position document gone, dropping from registry")
			m.registry.Remove(pos.TradeID)
			return nil
		}
		return err
	}
	if doc.Status != models.PositionStatusOpen {
		log.Info().Str("status", doc.Status).Msg("position no longer open, dropping from registry")
		m.registry.Remove(pos.TradeID)
		return nil
	}

	// Gate 3: live refresh. Cached values carry the tick if the fetch fails.
	currentPrice := doc.CurrentPrice
	profit := doc.Profit
	live, err := m.broker.GetOpenPositions(ctx, pos.UserID, "")
	if err != nil {
		log.Warn().Err(err).Msg("live position fetch failed, using cached values")
	} else {
		for i := range live {
			if live[i].Ticket == pos.MT4Ticket {
				currentPrice = live[i].CurrentPrice
				profit = live[i].Profit
				doc.CurrentPrice = currentPrice
				doc.Profit = profit
				// Status and the stop-activation flags are the trade
				// manager's; the monitor writes only the market fields.
				if uerr := m.store.UpdatePositionMarket(pos.TradeID, currentPrice, profit); uerr != nil {
					log.Warn().Err(uerr).Msg("position document refresh failed")
				}
				break
			}
		}
	}
	m.registry.Touch(pos.TradeID, currentPrice, m.now().UTC())
	pnl := pnlPercent(doc, currentPrice, profit)

	// Gate 4: trailing stop. The server-side stop is the exit authority.
	if doc.BreakEvenActivated || doc.TrailingStopActivated {
		metrics.PolicyVetoes.WithLabelValues("trailing_stop").Inc()
		log.Debug().Msg("server-side stop active, skipping exit evaluation")
		return nil
	}

	// Gate 5: profit protection. Past 40% of the way to TP, let it run.
	if tp, ok := progressToTP(doc, currentPrice); ok && tp >= ProfitProtectThreshold {
		metrics.PolicyVetoes.WithLabelValues("profit_protect").Inc()
		log.Debug().Float64("progress_to_tp", tp).Msg("profit protection active, skipping exit evaluation")
		return nil
	}

	// Gate 6: stagnant loser. Forces a full exit without consulting the
	// signal panel.
	age := m.now().UTC().Sub(pos.EntryTime)
	if profit <= 0 && age >= StagnantMinAge {
		if sl, ok := progressToSL(doc, currentPrice); ok && sl >= StagnantLossThreshold {
			reason := stagnantReason(age, sl)
			log.Warn().Float64("progress_to_sl", sl).Msg("stagnant loser, forcing exit")
			return m.executeExit(ctx, pos, doc, &signal.ExitSignal{
				ShouldExit: true,
				ExitType:   signal.ExitFull,
				Confidence: StagnantConfidence,
				Reason:     reason,
			}, currentPrice)
		}
	}

	// Gate 7: LLM exit signal.
	sig, err := m.signals.GenerateExitSignal(ctx, signal.ExitContext{
		Symbol:     pos.Symbol,
		EntryPrice: doc.EntryPrice,
		PnLPercent: pnl,
		Entry:      pos.EntrySignalData,
	})
	if err != nil {
		return err
	}
	if sig == nil || !sig.ShouldExit {
		return nil
	}

	// Gate 8: winner consensus. Profitable positions close only on a
	// unanimous panel; losers pass on shouldExit alone.
	if profit > 0 && !sig.LLMRecommendations.Unanimous() {
		metrics.PolicyVetoes.WithLabelValues("winner_consensus").Inc()
		log.Info().
			Int("votes", sig.LLMRecommendations.ExitVotes()).
			Msgf("%d/4 exit vote, holding profitable position", sig.LLMRecommendations.ExitVotes())
		return nil
	}

	return m.executeExit(ctx, pos, doc, sig, currentPrice)
}
