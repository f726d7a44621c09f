package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// Store is a JSON-file-backed Interface implementation. Writes go to a temp
// file followed by an atomic rename.
type Store struct {
	mu       sync.RWMutex
	filepath string
	data     *storeData
}

type storeData struct {
	Positions   map[string]*models.PositionDocument `json:"positions"`
	Trades      map[string]*models.TradeRecord      `json:"trades"`
	LastUpdated time.Time                           `json:"last_updated"`
}

var _ Interface = (*Store)(nil)

// NewStore opens (or creates) the store at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		filepath: path,
		data: &storeData{
			Positions: make(map[string]*models.PositionDocument),
			Trades:    make(map[string]*models.TradeRecord),
		},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return err
	}
	if s.data.Positions == nil {
		s.data.Positions = make(map[string]*models.PositionDocument)
	}
	if s.data.Trades == nil {
		s.data.Trades = make(map[string]*models.TradeRecord)
	}
	return nil
}

// saveLocked flushes to disk. Caller must hold the write lock.
func (s *Store) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filepath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filepath)
}

// SavePosition inserts or replaces a position document.
func (s *Store) SavePosition(doc *models.PositionDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.data.Positions[doc.TradeID] = &cp
	return s.saveLocked()
}

// GetPosition returns a copy of the document for a tradeId.
func (s *Store) GetPosition(tradeID string) (*models.PositionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data.Positions[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// GetPositionByTicket returns a copy of the document holding an MT4 ticket.
func (s *Store) GetPositionByTicket(ticket int64) (*models.PositionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.data.Positions {
		if doc.MT4Ticket == ticket {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdatePosition replaces an existing document.
func (s *Store) UpdatePosition(doc *models.PositionDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Positions[doc.TradeID]; !ok {
		return fmt.Errorf("position %s: %w", doc.TradeID, ErrNotFound)
	}
	cp := *doc
	s.data.Positions[doc.TradeID] = &cp
	return s.saveLocked()
}

// UpdatePositionMarket mutates only currentPrice and profit on the stored
// document, leaving every manager-owned field as it stands on disk.
func (s *Store) UpdatePositionMarket(tradeID string, currentPrice, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data.Positions[tradeID]
	if !ok {
		return fmt.Errorf("position %s: %w", tradeID, ErrNotFound)
	}
	doc.CurrentPrice = currentPrice
	doc.Profit = profit
	return s.saveLocked()
}

// OpenPositions returns copies of every open document.
func (s *Store) OpenPositions() ([]models.PositionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PositionDocument
	for _, doc := range s.data.Positions {
		if doc.Status == models.PositionStatusOpen {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// SaveTradeRecord inserts or replaces a trade record.
func (s *Store) SaveTradeRecord(rec *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	s.data.Trades[rec.TradeID] = &cp
	return s.saveLocked()
}

// GetTradeRecord returns a copy of the record for a tradeId.
func (s *Store) GetTradeRecord(tradeID string) (*models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data.Trades[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
