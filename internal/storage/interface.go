package storage

import (
	"github.com/eddiefleurent/kelly_kapoor/internal/models"
)

// Interface defines the contract for bot status, order, and position persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call these methods from multiple
// goroutines.
//
// The provided SQLiteStorage implementation uses sync.Mutex to serialize
// writes, ensuring all Interface methods are protected for concurrent use.
type Interface interface {
	// Bot status. GetBotStatus lazily creates an inactive record on first
	// read; the core never deletes status rows.
	GetBotStatus(botInstanceID int64) (*models.BotStatus, error)
	UpsertBotStatus(status *models.BotStatus) error

	// Trade orders, one record per leg per executed proposal.
	InsertTradeOrder(order *models.TradeOrder) error
	UpdateTradeOrderStatus(orderID string, status models.OrderStatus) error
	GetTradeOrders(botInstanceID int64) ([]models.TradeOrder, error)

	// Positions, one record per underlying per bot instance.
	GetPosition(botInstanceID int64, symbol string) (*models.PositionRecord, error)
	UpsertPosition(pos *models.PositionRecord) error
	GetPositions(botInstanceID int64) ([]models.PositionRecord, error)

	Close() error
}

// NewStorage creates a new storage implementation (currently SQLite-based).
// In the future, this can be extended to support different storage backends
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStorage(path)
}

// Ensure SQLiteStorage implements Interface
var _ Interface = (*SQLiteStorage)(nil)
