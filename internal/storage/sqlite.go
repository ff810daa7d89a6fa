package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/google/uuid"

	"github.com/eddiefleurent/kelly_kapoor/internal/models"
)

// SQLiteStorage persists bot status, trade orders, and positions in a local
// SQLite database. A single mutex serializes writes; SQLite handles one
// writer at a time and the bot's write volume is low.
type SQLiteStorage struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS bot_status (
	bot_instance_id INTEGER PRIMARY KEY,
	status          TEXT    NOT NULL,
	last_check_in   TIMESTAMP,
	is_active       BOOLEAN NOT NULL DEFAULT 0,
	error_message   TEXT
);

CREATE TABLE IF NOT EXISTS trade_orders (
	id              TEXT PRIMARY KEY,
	bot_instance_id INTEGER NOT NULL,
	broker_order_id INTEGER,
	symbol          TEXT    NOT NULL,
	option_symbol   TEXT    NOT NULL,
	side            TEXT    NOT NULL,
	order_type      TEXT    NOT NULL,
	quantity        INTEGER NOT NULL,
	price           REAL,
	status          TEXT    NOT NULL,
	executed_at     TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_orders_bot ON trade_orders(bot_instance_id);

CREATE TABLE IF NOT EXISTS positions (
	id              TEXT PRIMARY KEY,
	bot_instance_id INTEGER NOT NULL,
	symbol          TEXT    NOT NULL,
	quantity        INTEGER NOT NULL,
	average_cost    REAL    NOT NULL,
	opened_at       TIMESTAMP,
	UNIQUE(bot_instance_id, symbol)
);
`

// NewSQLiteStorage opens (creating if necessary) the SQLite database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetBotStatus returns the status row for a bot instance, creating an
// inactive row on first read.
func (s *SQLiteStorage) GetBotStatus(botInstanceID int64) (*models.BotStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.getBotStatusLocked(botInstanceID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := &models.BotStatus{
		BotInstanceID: botInstanceID,
		Status:        models.StateInactive,
		LastCheckIn:   time.Now().UTC(),
		IsActive:      false,
	}
	if err := s.upsertBotStatusLocked(created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteStorage) getBotStatusLocked(botInstanceID int64) (*models.BotStatus, error) {
	row := s.db.QueryRow(
		`SELECT bot_instance_id, status, last_check_in, is_active, COALESCE(error_message, '')
		 FROM bot_status WHERE bot_instance_id = ?`, botInstanceID)

	var st models.BotStatus
	var checkIn sql.NullTime
	if err := row.Scan(&st.BotInstanceID, &st.Status, &checkIn, &st.IsActive, &st.ErrorMessage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying bot status: %w", err)
	}
	if checkIn.Valid {
		st.LastCheckIn = checkIn.Time
	}
	return &st, nil
}

// UpsertBotStatus writes the status row for a bot instance.
func (s *SQLiteStorage) UpsertBotStatus(status *models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertBotStatusLocked(status)
}

func (s *SQLiteStorage) upsertBotStatusLocked(status *models.BotStatus) error {
	_, err := s.db.Exec(
		`INSERT INTO bot_status (bot_instance_id, status, last_check_in, is_active, error_message)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(bot_instance_id) DO UPDATE SET
			status = excluded.status,
			last_check_in = excluded.last_check_in,
			is_active = excluded.is_active,
			error_message = excluded.error_message`,
		status.BotInstanceID, string(status.Status), status.LastCheckIn, status.IsActive, status.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upserting bot status: %w", err)
	}
	return nil
}

// InsertTradeOrder inserts one order record. A missing id is generated.
func (s *SQLiteStorage) InsertTradeOrder(order *models.TradeOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.ExecutedAt.IsZero() {
		order.ExecutedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO trade_orders
			(id, bot_instance_id, broker_order_id, symbol, option_symbol, side, order_type, quantity, price, status, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.BotInstanceID, order.BrokerOrderID, order.Symbol, order.OptionSymbol,
		order.Side, order.OrderType, order.Quantity, order.Price, string(order.Status), order.ExecutedAt)
	if err != nil {
		return fmt.Errorf("inserting trade order: %w", err)
	}
	return nil
}

// UpdateTradeOrderStatus updates the status of one order record.
func (s *SQLiteStorage) UpdateTradeOrderStatus(orderID string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE trade_orders SET status = ? WHERE id = ?`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("updating trade order status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTradeOrders lists order records for one bot instance, newest first.
func (s *SQLiteStorage) GetTradeOrders(botInstanceID int64) ([]models.TradeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, bot_instance_id, broker_order_id, symbol, option_symbol, side, order_type, quantity, price, status, executed_at
		 FROM trade_orders WHERE bot_instance_id = ? ORDER BY executed_at DESC`, botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("querying trade orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []models.TradeOrder
	for rows.Next() {
		var o models.TradeOrder
		var executedAt sql.NullTime
		if err := rows.Scan(&o.ID, &o.BotInstanceID, &o.BrokerOrderID, &o.Symbol, &o.OptionSymbol,
			&o.Side, &o.OrderType, &o.Quantity, &o.Price, &o.Status, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning trade order: %w", err)
		}
		if executedAt.Valid {
			o.ExecutedAt = executedAt.Time
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetPosition returns the position for (bot, symbol) or ErrNotFound.
func (s *SQLiteStorage) GetPosition(botInstanceID int64, symbol string) (*models.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, bot_instance_id, symbol, quantity, average_cost, opened_at
		 FROM positions WHERE bot_instance_id = ? AND symbol = ?`, botInstanceID, symbol)

	var p models.PositionRecord
	var openedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.BotInstanceID, &p.Symbol, &p.Quantity, &p.AverageCost, &openedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying position: %w", err)
	}
	if openedAt.Valid {
		p.OpenedAt = openedAt.Time
	}
	return &p, nil
}

// UpsertPosition inserts or replaces the position row for (bot, symbol).
// Quantity/average-cost merging is the caller's concern; the row written is
// exactly the record passed in.
func (s *SQLiteStorage) UpsertPosition(pos *models.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO positions (id, bot_instance_id, symbol, quantity, average_cost, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bot_instance_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost`,
		pos.ID, pos.BotInstanceID, pos.Symbol, pos.Quantity, pos.AverageCost, pos.OpenedAt)
	if err != nil {
		return fmt.Errorf("upserting position: %w", err)
	}
	return nil
}

// GetPositions lists position records for one bot instance.
func (s *SQLiteStorage) GetPositions(botInstanceID int64) ([]models.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, bot_instance_id, symbol, quantity, average_cost, opened_at
		 FROM positions WHERE bot_instance_id = ? ORDER BY opened_at DESC`, botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []models.PositionRecord
	for rows.Next() {
		var p models.PositionRecord
		var openedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.BotInstanceID, &p.Symbol, &p.Quantity, &p.AverageCost, &openedAt); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		if openedAt.Valid {
			p.OpenedAt = openedAt.Time
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
