// Package orders tracks broker order fills for the trading bot, reconciling
// stored order records against live broker status.
package orders

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/kelly_kapoor/internal/broker"
	"github.com/eddiefleurent/kelly_kapoor/internal/models"
	"github.com/eddiefleurent/kelly_kapoor/internal/storage"
)

// Config contains configuration for the fill poller.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the fill poller.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	Timeout:      5 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// Manager polls broker order status and reflects terminal outcomes onto the
// stored trade order records.
type Manager struct {
	broker  broker.Broker
	storage storage.Interface
	logger  *log.Logger
	stop    <-chan struct{}
	config  Config
}

// NewManager creates a fill poller. Config is optional; invalid values are
// clamped to the defaults.
func NewManager(
	b broker.Broker,
	store storage.Interface,
	logger *log.Logger,
	stop <-chan struct{},
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	if store == nil {
		panic("orders.NewManager: storage must not be nil")
	}

	return &Manager{
		broker:  b,
		storage: store,
		logger:  logger,
		stop:    stop,
		config:  cfg,
	}
}

// PollOrderStatus polls one broker order until it reaches a terminal state
// or the poll window expires, then updates the stored record. Intended to
// run in its own goroutine after an order is placed.
func (m *Manager) PollOrderStatus(recordID string, brokerOrderID int) {
	m.logger.Printf("Polling order status for record %s, broker order %d", recordID, brokerOrderID)

	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Printf("Order polling timed out for record %s, broker order %d", recordID, brokerOrderID)
			return
		case <-m.stop:
			m.logger.Printf("Shutdown signal received while polling record %s", recordID)
			return
		case <-ticker.C:
			status, terminal, err := m.checkOnce(ctx, brokerOrderID)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				m.logger.Printf("Error checking broker order %d: %v", brokerOrderID, err)
				continue
			}
			if !terminal {
				continue
			}

			if err := m.storage.UpdateTradeOrderStatus(recordID, status); err != nil {
				m.logger.Printf("Failed to update record %s to %s: %v", recordID, status, err)
				return
			}
			m.logger.Printf("Record %s settled as %s (broker order %d)", recordID, status, brokerOrderID)
			return
		}
	}
}

// checkOnce fetches the broker status for one order and maps it to a stored
// order status. terminal is false for in-flight states.
func (m *Manager) checkOnce(ctx context.Context, brokerOrderID int) (models.OrderStatus, bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	resp, err := m.broker.GetOrderStatusCtx(statusCtx, brokerOrderID)
	if err != nil {
		return "", false, err
	}
	if resp == nil || resp.Order.ID == 0 || resp.Order.Status == "" {
		m.logger.Printf("Order payload missing for %d", brokerOrderID)
		return "", false, nil
	}

	if m.isOrderCompletelyFilled(resp) {
		return models.OrderFilled, true, nil
	}

	switch strings.ToLower(resp.Order.Status) {
	case "canceled", "cancelled", "expired":
		return models.OrderCanceled, true, nil
	case "rejected":
		return models.OrderRejected, true, nil
	case "pending", "open", "partial", "partially_filled", "filled":
		return "", false, nil
	default:
		m.logger.Printf("Unknown status for broker order %d: %s", brokerOrderID, resp.Order.Status)
		return "", false, nil
	}
}

// IsOrderTerminal reports whether an order has reached a terminal state.
func (m *Manager) IsOrderTerminal(ctx context.Context, brokerOrderID int) (bool, error) {
	_, terminal, err := m.checkOnce(ctx, brokerOrderID)
	return terminal, err
}

// isOrderCompletelyFilled checks executed quantity against requested
// quantity rather than trusting the status string alone; partial-fill
// statuses can lag behind a fully executed order.
func (m *Manager) isOrderCompletelyFilled(resp *broker.OrderResponse) bool {
	if resp == nil {
		return false
	}
	order := resp.Order

	if strings.ToLower(order.Status) == "filled" {
		return true
	}

	const epsilon = 1e-6
	if order.Quantity <= epsilon {
		return false
	}

	isComplete := order.ExecQuantity >= (order.Quantity - epsilon)
	hasZeroRemaining := order.RemainingQuantity <= epsilon
	nothingExecuted := order.ExecQuantity <= epsilon

	return isComplete || (hasZeroRemaining && !nothingExecuted)
}
