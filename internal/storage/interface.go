// Package storage persists position documents and trade records for the
// execution subsystem.
package storage

import (
	"errors"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// ErrNotFound is returned when no document exists for the given key.
var ErrNotFound = errors.New("storage: not found")

// Interface is the persistence contract used by the monitor and poller.
// Implementations must be safe for concurrent use.
type Interface interface {
	// SavePosition inserts or replaces a position document keyed by tradeId.
	SavePosition(doc *models.PositionDocument) error
	// GetPosition returns the document for a tradeId, or ErrNotFound.
	GetPosition(tradeID string) (*models.PositionDocument, error)
	// GetPositionByTicket returns the document holding an MT4 ticket, or
	// ErrNotFound.
	GetPositionByTicket(ticket int64) (*models.PositionDocument, error)
	// UpdatePosition replaces an existing document.
	UpdatePosition(doc *models.PositionDocument) error
	// UpdatePositionMarket writes only the market-tracking fields
	// (currentPrice, profit) of an existing document. Status and the
	// stop-activation flags belong to the external trade manager and are
	// never touched by this path.
	UpdatePositionMarket(tradeID string, currentPrice, profit float64) error
	// OpenPositions returns every document with status=open.
	OpenPositions() ([]models.PositionDocument, error)

	// SaveTradeRecord inserts or replaces a trade record keyed by tradeId.
	SaveTradeRecord(rec *models.TradeRecord) error
	// GetTradeRecord returns the record for a tradeId, or ErrNotFound.
	GetTradeRecord(tradeID string) (*models.TradeRecord, error)
}
