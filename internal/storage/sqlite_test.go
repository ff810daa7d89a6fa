package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/eddiefleurent/kelly_kapoor/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func TestGetBotStatus_LazyCreate(t *testing.T) {
	s := newTestStorage(t)

	status, err := s.GetBotStatus(7)
	if err != nil {
		t.Fatalf("GetBotStatus() error: %v", err)
	}
	if status.Status != models.StateInactive {
		t.Errorf("new status = %s, want inactive", status.Status)
	}
	if status.BotInstanceID != 7 {
		t.Errorf("BotInstanceID = %d, want 7", status.BotInstanceID)
	}
	if status.IsActive {
		t.Error("lazily created inactive row has IsActive = true, want false")
	}

	// second read returns the same row, not a fresh one
	again, err := s.GetBotStatus(7)
	if err != nil {
		t.Fatalf("second GetBotStatus() error: %v", err)
	}
	if again.Status != models.StateInactive {
		t.Errorf("second read status = %s, want inactive", again.Status)
	}
	if again.IsActive {
		t.Error("second read IsActive = true, want false")
	}
}

func TestMockGetBotStatus_LazyCreateInactive(t *testing.T) {
	m := NewMockStorage()

	status, err := m.GetBotStatus(7)
	if err != nil {
		t.Fatalf("GetBotStatus() error: %v", err)
	}
	if status.Status != models.StateInactive || status.IsActive {
		t.Errorf("lazy row = %s (active=%t), want inactive/false", status.Status, status.IsActive)
	}
}

func TestUpsertBotStatus_RoundTrip(t *testing.T) {
	s := newTestStorage(t)

	status, err := s.GetBotStatus(1)
	if err != nil {
		t.Fatalf("GetBotStatus() error: %v", err)
	}
	if err := status.Transition(models.StateActive, ""); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if err := s.UpsertBotStatus(status); err != nil {
		t.Fatalf("UpsertBotStatus() error: %v", err)
	}

	got, err := s.GetBotStatus(1)
	if err != nil {
		t.Fatalf("GetBotStatus() after upsert error: %v", err)
	}
	if got.Status != models.StateActive || !got.IsActive {
		t.Errorf("status = %s (active=%t), want active/true", got.Status, got.IsActive)
	}

	if err := status.Transition(models.StateError, "Trading loop error: boom"); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if err := s.UpsertBotStatus(status); err != nil {
		t.Fatalf("UpsertBotStatus() error: %v", err)
	}
	got, _ = s.GetBotStatus(1)
	if got.ErrorMessage != "Trading loop error: boom" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestTradeOrders(t *testing.T) {
	s := newTestStorage(t)

	order := &models.TradeOrder{
		BotInstanceID: 1,
		BrokerOrderID: 42,
		Symbol:        "SPY",
		OptionSymbol:  "SPY260320C00090000",
		Side:          "buy_to_open",
		OrderType:     "limit",
		Quantity:      3,
		Price:         10.0,
		Status:        models.OrderPending,
	}
	if err := s.InsertTradeOrder(order); err != nil {
		t.Fatalf("InsertTradeOrder() error: %v", err)
	}
	if order.ID == "" {
		t.Fatal("InsertTradeOrder did not assign an id")
	}

	if err := s.UpdateTradeOrderStatus(order.ID, models.OrderFilled); err != nil {
		t.Fatalf("UpdateTradeOrderStatus() error: %v", err)
	}

	orders, err := s.GetTradeOrders(1)
	if err != nil {
		t.Fatalf("GetTradeOrders() error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("GetTradeOrders() returned %d orders, want 1", len(orders))
	}
	if orders[0].Status != models.OrderFilled {
		t.Errorf("order status = %s, want filled", orders[0].Status)
	}
	if orders[0].BrokerOrderID != 42 {
		t.Errorf("BrokerOrderID = %d, want 42", orders[0].BrokerOrderID)
	}

	// other bots see nothing
	other, err := s.GetTradeOrders(2)
	if err != nil {
		t.Fatalf("GetTradeOrders(2) error: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("GetTradeOrders(2) returned %d orders, want 0", len(other))
	}
}

func TestUpdateTradeOrderStatus_NotFound(t *testing.T) {
	s := newTestStorage(t)
	err := s.UpdateTradeOrderStatus("missing", models.OrderFilled)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestPositions(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.GetPosition(1, "SPY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPosition on empty store = %v, want ErrNotFound", err)
	}

	pos := &models.PositionRecord{
		BotInstanceID: 1,
		Symbol:        "SPY",
		Quantity:      10,
		AverageCost:   500,
	}
	if err := s.UpsertPosition(pos); err != nil {
		t.Fatalf("UpsertPosition() error: %v", err)
	}

	got, err := s.GetPosition(1, "SPY")
	if err != nil {
		t.Fatalf("GetPosition() error: %v", err)
	}
	if got.Quantity != 10 || got.AverageCost != 500 {
		t.Errorf("position = %d @ %v, want 10 @ 500", got.Quantity, got.AverageCost)
	}

	// merging a second fill and upserting updates the same row
	got.Merge(10, 600)
	if err := s.UpsertPosition(got); err != nil {
		t.Fatalf("second UpsertPosition() error: %v", err)
	}

	all, err := s.GetPositions(1)
	if err != nil {
		t.Fatalf("GetPositions() error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetPositions() returned %d rows, want 1", len(all))
	}
	if all[0].Quantity != 20 || all[0].AverageCost != 550 {
		t.Errorf("merged position = %d @ %v, want 20 @ 550", all[0].Quantity, all[0].AverageCost)
	}
}
