package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBroker implements Broker for testing. Behavior is scripted through the
// exported fields; calls are recorded so tests can assert on interactions.
type MockBroker struct {
	mu sync.Mutex

	ConnectErr error
	Balance    float64
	BalanceErr error

	Quotes      map[string]QuoteItem
	QuotesErr   error
	QuotesDelay time.Duration

	Chain    []Option
	ChainErr error

	Expirations []string

	Positions []PositionItem
	Orders    []OrderItem

	// PlaceOrderResponses are consumed in order; when exhausted a generic
	// filled response is returned. A nil entry means "fail this call".
	PlaceOrderResponses []*OrderResponse
	PlaceOrderErrs      []error
	CancelErr           error
	OrderStatus         map[int]*OrderResponse

	placedOrders   []OptionOrderRequest
	canceledOrders []int
	connectCalls   int
	balanceCalls   int
	quoteCalls     int
	chainCalls     int
	nextOrderID    int
}

// NewMockBroker creates a mock broker with an empty script.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		Quotes:      make(map[string]QuoteItem),
		OrderStatus: make(map[int]*OrderResponse),
		nextOrderID: 1000,
	}
}

// FilledOrderResponse builds a filled OrderResponse with the given id,
// convenient for scripting mocks.
func FilledOrderResponse(id int) *OrderResponse {
	resp := &OrderResponse{}
	resp.Order.ID = id
	resp.Order.Status = "filled"
	return resp
}

// PendingOrderResponse builds a pending OrderResponse with the given id.
func PendingOrderResponse(id int) *OrderResponse {
	resp := &OrderResponse{}
	resp.Order.ID = id
	resp.Order.Status = "pending"
	return resp
}

// Connect returns the scripted connection error.
func (m *MockBroker) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	return m.ConnectErr
}

// GetAccountBalance returns the scripted balance.
func (m *MockBroker) GetAccountBalance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	if m.BalanceErr != nil {
		return 0, m.BalanceErr
	}
	return m.Balance, nil
}

// GetPositions returns the scripted positions.
func (m *MockBroker) GetPositions() ([]PositionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Positions, nil
}

// GetOrders returns the scripted orders listing.
func (m *MockBroker) GetOrders() ([]OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Orders, nil
}

// GetQuote returns the scripted quote for one symbol.
func (m *MockBroker) GetQuote(symbol string) (*QuoteItem, error) {
	quotes, err := m.GetQuotes([]string{symbol}, false)
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	return &q, nil
}

// GetQuotes returns the scripted quotes for the requested symbols. A
// non-zero QuotesDelay blocks the call first, simulating a slow feed.
func (m *MockBroker) GetQuotes(symbols []string, greeks bool) (map[string]QuoteItem, error) {
	if m.QuotesDelay > 0 {
		time.Sleep(m.QuotesDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls++
	if m.QuotesErr != nil {
		return nil, m.QuotesErr
	}
	out := make(map[string]QuoteItem, len(symbols))
	for _, s := range symbols {
		if q, ok := m.Quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// GetExpirations returns the scripted expiration dates.
func (m *MockBroker) GetExpirations(symbol string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Expirations, nil
}

// GetOptionChain returns the scripted option chain.
func (m *MockBroker) GetOptionChain(symbol, expiration string, withGreeks bool) ([]Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainCalls++
	if m.ChainErr != nil {
		return nil, m.ChainErr
	}
	return m.Chain, nil
}

// PlaceOptionOrder consumes the next scripted response.
func (m *MockBroker) PlaceOptionOrder(req OptionOrderRequest) (*OrderResponse, error) {
	return m.PlaceOptionOrderCtx(context.Background(), req)
}

// PlaceOptionOrderCtx consumes the next scripted response.
func (m *MockBroker) PlaceOptionOrderCtx(_ context.Context, req OptionOrderRequest) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.placedOrders)
	m.placedOrders = append(m.placedOrders, req)

	if idx < len(m.PlaceOrderErrs) && m.PlaceOrderErrs[idx] != nil {
		return nil, m.PlaceOrderErrs[idx]
	}
	if idx < len(m.PlaceOrderResponses) {
		if m.PlaceOrderResponses[idx] == nil {
			return nil, fmt.Errorf("order rejected")
		}
		return m.PlaceOrderResponses[idx], nil
	}

	m.nextOrderID++
	return FilledOrderResponse(m.nextOrderID), nil
}

// CancelOrder records the cancellation and returns the scripted error.
func (m *MockBroker) CancelOrder(orderID int) error {
	return m.CancelOrderCtx(context.Background(), orderID)
}

// CancelOrderCtx records the cancellation and returns the scripted error.
func (m *MockBroker) CancelOrderCtx(_ context.Context, orderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceledOrders = append(m.canceledOrders, orderID)
	return m.CancelErr
}

// GetOrderStatus returns the scripted status for an order id.
func (m *MockBroker) GetOrderStatus(orderID int) (*OrderResponse, error) {
	return m.GetOrderStatusCtx(context.Background(), orderID)
}

// GetOrderStatusCtx returns the scripted status for an order id.
func (m *MockBroker) GetOrderStatusCtx(_ context.Context, orderID int) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp, ok := m.OrderStatus[orderID]; ok {
		return resp, nil
	}
	return FilledOrderResponse(orderID), nil
}

// PlacedOrders returns a copy of the recorded order requests.
func (m *MockBroker) PlacedOrders() []OptionOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OptionOrderRequest, len(m.placedOrders))
	copy(out, m.placedOrders)
	return out
}

// CanceledOrders returns a copy of the recorded canceled order ids.
func (m *MockBroker) CanceledOrders() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.canceledOrders))
	copy(out, m.canceledOrders)
	return out
}

// ConnectCalls returns how many times Connect was invoked.
func (m *MockBroker) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// ChainCalls returns how many times GetOptionChain was invoked.
func (m *MockBroker) ChainCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainCalls
}

// Ensure MockBroker implements Broker at compile time.
var _ Broker = (*MockBroker)(nil)
