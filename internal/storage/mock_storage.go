package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/kelly_kapoor/internal/models"
)

// MockStorage is an in-memory implementation of Interface for testing.
// Errors can be scripted per method; call counters let tests assert on
// interactions.
type MockStorage struct {
	mu sync.Mutex

	statuses  map[int64]*models.BotStatus
	orders    []models.TradeOrder
	positions map[string]*models.PositionRecord

	GetStatusErr    error
	UpsertStatusErr error
	InsertOrderErr  error
	UpsertPosErr    error

	getStatusCalls    int
	upsertStatusCalls int
	insertOrderCalls  int
	upsertPosCalls    int
}

// NewMockStorage creates an empty in-memory storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		statuses:  make(map[int64]*models.BotStatus),
		positions: make(map[string]*models.PositionRecord),
	}
}

func positionKey(botInstanceID int64, symbol string) string {
	return fmt.Sprintf("%d/%s", botInstanceID, symbol)
}

// GetBotStatus returns the stored status, creating an inactive row on first read.
func (m *MockStorage) GetBotStatus(botInstanceID int64) (*models.BotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStatusCalls++
	if m.GetStatusErr != nil {
		return nil, m.GetStatusErr
	}
	if st, ok := m.statuses[botInstanceID]; ok {
		cp := *st
		return &cp, nil
	}
	st := &models.BotStatus{
		BotInstanceID: botInstanceID,
		Status:        models.StateInactive,
		LastCheckIn:   time.Now().UTC(),
		IsActive:      false,
	}
	m.statuses[botInstanceID] = st
	cp := *st
	return &cp, nil
}

// UpsertBotStatus stores a copy of the given status.
func (m *MockStorage) UpsertBotStatus(status *models.BotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertStatusCalls++
	if m.UpsertStatusErr != nil {
		return m.UpsertStatusErr
	}
	cp := *status
	m.statuses[status.BotInstanceID] = &cp
	return nil
}

// SetBotStatus seeds a status row without counting as an upsert call.
func (m *MockStorage) SetBotStatus(status *models.BotStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *status
	m.statuses[status.BotInstanceID] = &cp
}

// InsertTradeOrder appends a copy of the order, assigning an id if missing.
func (m *MockStorage) InsertTradeOrder(order *models.TradeOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertOrderCalls++
	if m.InsertOrderErr != nil {
		return m.InsertOrderErr
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.ExecutedAt.IsZero() {
		order.ExecutedAt = time.Now().UTC()
	}
	m.orders = append(m.orders, *order)
	return nil
}

// UpdateTradeOrderStatus updates one stored order's status.
func (m *MockStorage) UpdateTradeOrderStatus(orderID string, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].ID == orderID {
			m.orders[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

// GetTradeOrders returns stored orders for one bot instance.
func (m *MockStorage) GetTradeOrders(botInstanceID int64) ([]models.TradeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeOrder
	for _, o := range m.orders {
		if o.BotInstanceID == botInstanceID {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetPosition returns the stored position or ErrNotFound.
func (m *MockStorage) GetPosition(botInstanceID int64, symbol string) (*models.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[positionKey(botInstanceID, symbol)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

// UpsertPosition stores a copy of the given position.
func (m *MockStorage) UpsertPosition(pos *models.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertPosCalls++
	if m.UpsertPosErr != nil {
		return m.UpsertPosErr
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}
	cp := *pos
	m.positions[positionKey(pos.BotInstanceID, pos.Symbol)] = &cp
	return nil
}

// GetPositions returns stored positions for one bot instance.
func (m *MockStorage) GetPositions(botInstanceID int64) ([]models.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PositionRecord
	for _, p := range m.positions {
		if p.BotInstanceID == botInstanceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MockStorage) Close() error { return nil }

// InsertOrderCalls returns how many times InsertTradeOrder was invoked.
func (m *MockStorage) InsertOrderCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertOrderCalls
}

// UpsertStatusCalls returns how many times UpsertBotStatus was invoked.
func (m *MockStorage) UpsertStatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertStatusCalls
}

// Ensure MockStorage implements Interface at compile time.
var _ Interface = (*MockStorage)(nil)
