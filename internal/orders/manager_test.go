package orders

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/kelly_kapoor/internal/broker"
	"github.com/eddiefleurent/kelly_kapoor/internal/models"
	"github.com/eddiefleurent/kelly_kapoor/internal/storage"
)

func fastConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
		CallTimeout:  100 * time.Millisecond,
	}
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func pendingOrder(t *testing.T, store storage.Interface, brokerOrderID int) *models.TradeOrder {
	t.Helper()
	order := &models.TradeOrder{
		BotInstanceID: 1,
		BrokerOrderID: brokerOrderID,
		Symbol:        "SPY",
		OptionSymbol:  "SPY260320C00090000",
		Side:          "buy_to_open",
		OrderType:     "limit",
		Quantity:      1,
		Price:         10.0,
		Status:        models.OrderPending,
	}
	if err := store.InsertTradeOrder(order); err != nil {
		t.Fatalf("InsertTradeOrder() error: %v", err)
	}
	return order
}

func TestPollOrderStatus_Filled(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.OrderStatus[42] = broker.FilledOrderResponse(42)
	store := storage.NewMockStorage()
	order := pendingOrder(t, store, 42)

	m := NewManager(mock, store, discard(), nil, fastConfig())
	m.PollOrderStatus(order.ID, 42)

	orders, _ := store.GetTradeOrders(1)
	if len(orders) != 1 || orders[0].Status != models.OrderFilled {
		t.Fatalf("order status = %v, want filled", orders)
	}
}

func TestPollOrderStatus_Rejected(t *testing.T) {
	mock := broker.NewMockBroker()
	rejected := broker.PendingOrderResponse(42)
	rejected.Order.Status = "rejected"
	mock.OrderStatus[42] = rejected
	store := storage.NewMockStorage()
	order := pendingOrder(t, store, 42)

	m := NewManager(mock, store, discard(), nil, fastConfig())
	m.PollOrderStatus(order.ID, 42)

	orders, _ := store.GetTradeOrders(1)
	if len(orders) != 1 || orders[0].Status != models.OrderRejected {
		t.Fatalf("order status = %v, want rejected", orders)
	}
}

func TestPollOrderStatus_TimesOutOnPending(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.OrderStatus[42] = broker.PendingOrderResponse(42)
	store := storage.NewMockStorage()
	order := pendingOrder(t, store, 42)

	cfg := fastConfig()
	cfg.Timeout = 30 * time.Millisecond
	m := NewManager(mock, store, discard(), nil, cfg)
	m.PollOrderStatus(order.ID, 42)

	orders, _ := store.GetTradeOrders(1)
	if len(orders) != 1 || orders[0].Status != models.OrderPending {
		t.Fatalf("order status = %v, want still pending after timeout", orders)
	}
}

func TestPollOrderStatus_StopSignal(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.OrderStatus[42] = broker.PendingOrderResponse(42)
	store := storage.NewMockStorage()
	order := pendingOrder(t, store, 42)

	stop := make(chan struct{})
	close(stop)
	m := NewManager(mock, store, discard(), stop, fastConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.PollOrderStatus(order.ID, 42)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PollOrderStatus did not exit on stop signal")
	}
}

func TestIsOrderTerminal(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.OrderStatus[1] = broker.FilledOrderResponse(1)
	mock.OrderStatus[2] = broker.PendingOrderResponse(2)

	m := NewManager(mock, storage.NewMockStorage(), discard(), nil, fastConfig())

	terminal, err := m.IsOrderTerminal(context.Background(), 1)
	if err != nil || !terminal {
		t.Fatalf("IsOrderTerminal(filled) = %v, %v; want true, nil", terminal, err)
	}
	terminal, err = m.IsOrderTerminal(context.Background(), 2)
	if err != nil || terminal {
		t.Fatalf("IsOrderTerminal(pending) = %v, %v; want false, nil", terminal, err)
	}
}

func TestIsOrderCompletelyFilled(t *testing.T) {
	m := NewManager(broker.NewMockBroker(), storage.NewMockStorage(), discard(), nil)

	partial := broker.PendingOrderResponse(1)
	partial.Order.Status = "partial"
	partial.Order.Quantity = 5
	partial.Order.ExecQuantity = 5
	partial.Order.RemainingQuantity = 0
	if !m.isOrderCompletelyFilled(partial) {
		t.Error("fully executed partial should count as filled")
	}

	rejected := broker.PendingOrderResponse(2)
	rejected.Order.Status = "partial"
	rejected.Order.Quantity = 5
	rejected.Order.ExecQuantity = 0
	rejected.Order.RemainingQuantity = 0
	if m.isOrderCompletelyFilled(rejected) {
		t.Error("nothing-executed order should not count as filled")
	}

	if m.isOrderCompletelyFilled(nil) {
		t.Error("nil response should not count as filled")
	}
}
