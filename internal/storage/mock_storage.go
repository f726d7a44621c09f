package storage

import (
	"sync"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// MockStorage implements Interface for testing.
type MockStorage struct {
	mu        sync.Mutex
	SaveError error

	positions map[string]*models.PositionDocument
	trades    map[string]*models.TradeRecord

	SaveCalls   int
	UpdateCalls int
}

var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates an empty in-memory mock.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions: make(map[string]*models.PositionDocument),
		trades:    make(map[string]*models.TradeRecord),
	}
}

func (m *MockStorage) SavePosition(doc *models.PositionDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveError != nil {
		return m.SaveError
	}
	cp := *doc
	m.positions[doc.TradeID] = &cp
	return nil
}

func (m *MockStorage) GetPosition(tradeID string) (*models.PositionDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.positions[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MockStorage) GetPositionByTicket(ticket int64) (*models.PositionDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.positions {
		if doc.MT4Ticket == ticket {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) UpdatePosition(doc *models.PositionDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.SaveError != nil {
		return m.SaveError
	}
	if _, ok := m.positions[doc.TradeID]; !ok {
		return ErrNotFound
	}
	cp := *doc
	m.positions[doc.TradeID] = &cp
	return nil
}

func (m *MockStorage) UpdatePositionMarket(tradeID string, currentPrice, profit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.SaveError != nil {
		return m.SaveError
	}
	doc, ok := m.positions[tradeID]
	if !ok {
		return ErrNotFound
	}
	doc.CurrentPrice = currentPrice
	doc.Profit = profit
	return nil
}

func (m *MockStorage) OpenPositions() ([]models.PositionDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PositionDocument
	for _, doc := range m.positions {
		if doc.Status == models.PositionStatusOpen {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (m *MockStorage) SaveTradeRecord(rec *models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	cp := *rec
	m.trades[rec.TradeID] = &cp
	return nil
}

func (m *MockStorage) GetTradeRecord(tradeID string) (*models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
