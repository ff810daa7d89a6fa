// Package models defines the records the bot persists: per-bot status rows,
// trade orders, and positions.
package models

import (
	"time"
)

// BotState is the lifecycle state of a bot instance.
type BotState string

const (
	// StateInactive means the bot is stopped and no worker is running.
	StateInactive BotState = "inactive"
	// StateActive means a worker is running the strategy loop.
	StateActive BotState = "active"
	// StateError means the worker terminated on an unrecoverable error.
	StateError BotState = "error"
)

// Valid reports whether the state is one of the defined constants.
func (s BotState) Valid() bool {
	switch s {
	case StateInactive, StateActive, StateError:
		return true
	default:
		return false
	}
}

// BotStatus is the authoritative status row for one bot instance.
// It is created lazily on first read and mutated on every state transition;
// the core never deletes it.
type BotStatus struct {
	BotInstanceID int64     `json:"bot_instance_id"`
	Status        BotState  `json:"status"`
	LastCheckIn   time.Time `json:"last_check_in"`
	IsActive      bool      `json:"is_active"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// OrderStatus is the lifecycle status of a persisted trade order.
type OrderStatus string

const (
	// OrderPending means the order has been submitted but not filled.
	OrderPending OrderStatus = "pending"
	// OrderFilled means the order has been completely filled.
	OrderFilled OrderStatus = "filled"
	// OrderCanceled means the order was canceled before filling.
	OrderCanceled OrderStatus = "canceled"
	// OrderRejected means the brokerage rejected the order.
	OrderRejected OrderStatus = "rejected"
)

// TradeOrder is one persisted order record, one per leg per executed proposal.
type TradeOrder struct {
	ID            string      `json:"id"`
	BotInstanceID int64       `json:"bot_instance_id"`
	BrokerOrderID int         `json:"broker_order_id"`
	Symbol        string      `json:"symbol"`
	OptionSymbol  string      `json:"option_symbol"`
	Side          string      `json:"side"` // buy_to_open | sell_to_open
	OrderType     string      `json:"order_type"`
	Quantity      int         `json:"quantity"`
	Price         float64     `json:"price"`
	Status        OrderStatus `json:"status"`
	ExecutedAt    time.Time   `json:"executed_at"`
}

// PositionRecord is one persisted position per underlying per bot instance.
// Re-trading the same underlying merges quantity and average cost.
type PositionRecord struct {
	ID            string    `json:"id"`
	BotInstanceID int64     `json:"bot_instance_id"`
	Symbol        string    `json:"symbol"`
	Quantity      int       `json:"quantity"`
	AverageCost   float64   `json:"average_cost"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Merge folds a new fill into the position, recomputing the weighted
// average cost. A zero-quantity fill is a no-op.
func (p *PositionRecord) Merge(quantity int, cost float64) {
	if quantity == 0 {
		return
	}
	total := p.Quantity + quantity
	if total == 0 {
		p.Quantity = 0
		p.AverageCost = 0
		return
	}
	p.AverageCost = (p.AverageCost*float64(p.Quantity) + cost*float64(quantity)) / float64(total)
	p.Quantity = total
}
