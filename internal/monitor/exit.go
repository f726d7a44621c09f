package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scalpline/mt4-scalper/internal/metrics"
	"github.com/scalpline/mt4-scalper/internal/models"
	"github.com/scalpline/mt4-scalper/internal/notify"
	"github.com/scalpline/mt4-scalper/internal/signal"
	"github.com/scalpline/mt4-scalper/internal/storage"
)

// rehydrateWindow bounds how far back startup registry seeding looks.
const rehydrateWindow = 24 * time.Hour

// executeExit dispatches a close decision. It re-verifies liveness against
// the bridge first so a position closed out-of-band never produces a
// duplicate close order.
func (m *Monitor) executeExit(ctx context.Context, pos *models.MonitoredPosition,
	doc *models.PositionDocument, sig *signal.ExitSignal, currentPrice float64) error {

	log := m.log.With().Str("trade_id", pos.TradeID).Int64("ticket", pos.MT4Ticket).Logger()

	// The close endpoint only supports full closes.
	if sig.ExitType == signal.ExitPartial {
		log.Info().
			Float64("requested_pct", sig.PartialExitPercentage).
			Msg("partial exit not supported by bridge, promoting to full close")
		sig.ExitType = signal.ExitFull
	}

	live, err := m.broker.GetOpenPositions(ctx, pos.UserID, pos.Symbol)
	if err != nil {
		return fmt.Errorf("pre-close verification: %w", err)
	}
	found := false
	for i := range live {
		if live[i].Ticket == pos.MT4Ticket {
			found = true
			break
		}
	}
	if !found {
		log.Info().Msg("position already closed on MT4, reconciling document")
		doc.MarkClosed(m.now().UTC(), models.CloseReasonAlreadyClosed)
		if uerr := m.store.UpdatePosition(doc); uerr != nil {
			log.Warn().Err(uerr).Msg("reconcile write failed")
		}
		m.registry.Remove(pos.TradeID)
		metrics.OrdersClosed.WithLabelValues(models.CloseReasonAlreadyClosed).Inc()
		return nil
	}

	order, err := m.broker.ClosePosition(ctx, pos.UserID, pos.MT4Ticket, 0)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if order == nil || order.Ticket == 0 {
		return fmt.Errorf("close position: bridge returned no ticket")
	}

	doc.MarkClosed(m.now().UTC(), models.CloseReasonEarlyExitLLM)
	doc.CurrentPrice = currentPrice
	doc.Profit = order.Profit
	if uerr := m.store.UpdatePosition(doc); uerr != nil {
		log.Warn().Err(uerr).Msg("position document close write failed")
	}

	if rerr := m.recordExit(pos, order, sig); rerr != nil {
		log.Warn().Err(rerr).Msg("trade record update failed")
	}

	m.registry.Remove(pos.TradeID)
	metrics.OrdersClosed.WithLabelValues(models.CloseReasonEarlyExitLLM).Inc()
	log.Info().
		Float64("pnl", order.Profit).
		Int("confidence", sig.Confidence).
		Str("reason", sig.Reason).
		Msg("position closed")

	m.sendNotification(ctx, pos, doc, order, sig, currentPrice)
	return nil
}

// recordExit annotates the trade ledger entry with the close outcome.
func (m *Monitor) recordExit(pos *models.MonitoredPosition, order *models.Order, sig *signal.ExitSignal) error {
	rec, err := m.store.GetTradeRecord(pos.TradeID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		rec = &models.TradeRecord{
			TradeID: pos.TradeID,
			UserID:  pos.UserID,
			AgentID: pos.AgentID,
			Symbol:  pos.Symbol,
			Status:  "filled",
		}
	}
	rec.CloseReason = models.CloseReasonEarlyExitLLM
	rec.PnL = order.Profit
	note := fmt.Sprintf("%s (confidence %d)", sig.Reason, sig.Confidence)
	if rec.PerformanceNotes != "" {
		rec.PerformanceNotes += "; " + note
	} else {
		rec.PerformanceNotes = note
	}
	return m.store.SaveTradeRecord(rec)
}

// sendNotification pushes the exit summary. Failures are logged and
// swallowed; the close has already happened.
func (m *Monitor) sendNotification(ctx context.Context, pos *models.MonitoredPosition,
	doc *models.PositionDocument, order *models.Order, sig *signal.ExitSignal, exitPrice float64) {

	if m.notifier == nil {
		return
	}
	err := m.notifier.NotifyExit(ctx, notify.ExitNotification{
		UserID:     pos.UserID,
		TradeID:    pos.TradeID,
		Symbol:     pos.Symbol,
		EntryPrice: doc.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        order.Profit,
		Reason:     sig.Reason,
		Confidence: sig.Confidence,
		LLMReasons: sig.LLMRecommendations.Reasons(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("exit notification failed")
	}
}

// LoadExistingPositions seeds the registry from persisted state after a
// restart. Rule: every open PositionDocument no older than 24 hours that
// falls inside the monitor's scope is re-registered.
func (m *Monitor) LoadExistingPositions(ctx context.Context) error {
	docs, err := m.store.OpenPositions()
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	cutoff := m.now().UTC().Add(-rehydrateWindow)
	loaded := 0
	for i := range docs {
		doc := &docs[i]
		if doc.OpenTime.Before(cutoff) {
			continue
		}
		pos := models.MonitoredPosition{
			TradeID:         doc.TradeID,
			UserID:          doc.UserID,
			AgentID:         doc.AgentID,
			Symbol:          doc.Symbol,
			EntryPrice:      doc.EntryPrice,
			CurrentPrice:    doc.CurrentPrice,
			EntryTime:       doc.OpenTime,
			EntrySignalData: doc.EntrySignalData,
			MT4Ticket:       doc.MT4Ticket,
		}
		if !inScope(&pos) {
			continue
		}
		m.registry.Add(pos)
		loaded++
	}
	m.log.Info().Int("loaded", loaded).Int("scanned", len(docs)).Msg("registry rehydrated from storage")
	return nil
}

// ReconcileOpenDocuments sweeps open documents against live MT4 positions
// and closes any whose ticket has vanished from the bridge. Scheduled hourly.
func (m *Monitor) ReconcileOpenDocuments(ctx context.Context) error {
	docs, err := m.store.OpenPositions()
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	// Live tickets, fetched once per user in the sweep.
	liveByUser := make(map[string]map[int64]bool)
	reconciled := 0
	for i := range docs {
		doc := &docs[i]
		tickets, ok := liveByUser[doc.UserID]
		if !ok {
			live, ferr := m.broker.GetOpenPositions(ctx, doc.UserID, "")
			if ferr != nil {
				m.log.Warn().Err(ferr).Str("user_id", doc.UserID).Msg("reconcile fetch failed, skipping user")
				liveByUser[doc.UserID] = nil
				continue
			}
			tickets = make(map[int64]bool, len(live))
			for j := range live {
				tickets[live[j].Ticket] = true
			}
			liveByUser[doc.UserID] = tickets
		}
		if tickets == nil || tickets[doc.MT4Ticket] {
			continue
		}

		doc.MarkClosed(m.now().UTC(), models.CloseReasonAlreadyClosed)
		if uerr := m.store.UpdatePosition(doc); uerr != nil {
			m.log.Warn().Err(uerr).Str("trade_id", doc.TradeID).Msg("reconcile write failed")
			continue
		}
		m.registry.Remove(doc.TradeID)
		metrics.OrdersClosed.WithLabelValues(models.CloseReasonAlreadyClosed).Inc()
		reconciled++
	}
	if reconciled > 0 {
		m.log.Info().Int("reconciled", reconciled).Msg("closed documents for vanished MT4 positions")
	}
	return nil
}
