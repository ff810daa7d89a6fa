// Package controller owns the per-bot lifecycle: starting and stopping the
// background worker, running the trading loop, and recording state
// transitions in storage. The stored status row is authoritative; the
// in-memory worker table only tracks goroutines owned by this process.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/eddiefleurent/kelly_kapoor/internal/broker"
	"github.com/eddiefleurent/kelly_kapoor/internal/config"
	"github.com/eddiefleurent/kelly_kapoor/internal/models"
	"github.com/eddiefleurent/kelly_kapoor/internal/orders"
	"github.com/eddiefleurent/kelly_kapoor/internal/storage"
	"github.com/eddiefleurent/kelly_kapoor/internal/strategy"
)

// ErrBrokerUnavailable indicates the brokerage could not be reached while
// starting a bot.
var ErrBrokerUnavailable = errors.New("brokerage unavailable")

// BrokerFactory constructs a broker client for one bot instance.
type BrokerFactory func() (broker.Broker, error)

// Result is the outcome of a start or stop request.
type Result struct {
	Success bool
	Message string
}

// worker tracks one running trading loop.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller manages one worker per bot instance.
type Controller struct {
	cfg       *config.Config
	storage   storage.Interface
	logger    *log.Logger
	newBroker BrokerFactory

	pollInterval time.Duration
	stopTimeout  time.Duration

	mu      sync.Mutex
	workers map[int64]*worker
}

// New creates a controller. The factory is invoked once per successful
// start; each bot instance gets its own broker client.
func New(cfg *config.Config, store storage.Interface, logger *log.Logger, newBroker BrokerFactory) *Controller {
	return &Controller{
		cfg:          cfg,
		storage:      store,
		logger:       logger,
		newBroker:    newBroker,
		pollInterval: cfg.GetPollInterval(),
		stopTimeout:  cfg.GetStopTimeout(),
		workers:      make(map[int64]*worker),
	}
}

// StartBot transitions a bot to active and launches its trading loop.
// Starting an already-active bot is a no-op that touches neither storage
// nor the brokerage.
func (c *Controller) StartBot(botInstanceID int64) (*Result, error) {
	status, err := c.storage.GetBotStatus(botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("reading bot status: %w", err)
	}
	if status.Status == models.StateActive {
		return &Result{Success: false, Message: "Bot is already running."}, nil
	}

	b, err := c.newBroker()
	if err == nil {
		err = b.Connect()
	}
	if err != nil {
		c.logger.Printf("Bot %d failed to connect to brokerage: %v", botInstanceID, err)
		if terr := status.Transition(models.StateError, "Failed to connect to brokerage."); terr != nil {
			return nil, terr
		}
		if serr := c.storage.UpsertBotStatus(status); serr != nil {
			return nil, serr
		}
		return &Result{Success: false, Message: "Failed to start bot: Could not connect to brokerage."},
			fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	if err := status.Transition(models.StateActive, ""); err != nil {
		return nil, err
	}
	if err := c.storage.UpsertBotStatus(status); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.workers[botInstanceID] = w
	c.mu.Unlock()

	strat := strategy.New(b, c.logger, strategyParams(c.cfg))

	go func() {
		defer close(w.done)
		c.runLoop(ctx, botInstanceID, b, strat)
	}()

	c.logger.Printf("Bot %d started", botInstanceID)
	return &Result{Success: true, Message: "Bot started successfully."}, nil
}

// StopBot cancels the bot's worker and waits for it to exit, bounded by the
// stop timeout. Status is set inactive even when the join times out; the
// abandoned worker observes the inactive row on its next iteration and
// exits on its own.
func (c *Controller) StopBot(botInstanceID int64) (*Result, error) {
	status, err := c.storage.GetBotStatus(botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("reading bot status: %w", err)
	}
	if status.Status == models.StateInactive {
		return &Result{Success: false, Message: "Bot is already stopped."}, nil
	}

	c.mu.Lock()
	w := c.workers[botInstanceID]
	delete(c.workers, botInstanceID)
	c.mu.Unlock()

	if w != nil {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(c.stopTimeout):
			c.logger.Printf("Bot %d worker did not stop within %v, abandoning", botInstanceID, c.stopTimeout)
		}
	}

	if err := status.Transition(models.StateInactive, ""); err != nil {
		return nil, err
	}
	if err := c.storage.UpsertBotStatus(status); err != nil {
		return nil, err
	}

	c.logger.Printf("Bot %d stopped", botInstanceID)
	return &Result{Success: true, Message: "Bot stopped successfully."}, nil
}

// StopAll stops every worker owned by this process. Used at shutdown.
func (c *Controller) StopAll() {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.workers))
	for id := range c.workers {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if _, err := c.StopBot(id); err != nil {
			c.logger.Printf("Error stopping bot %d: %v", id, err)
		}
	}
}

// runLoop is the trading loop for one bot. It exits when the context is
// canceled, when the stored status is no longer active, or when an
// iteration fails, in which case the bot transitions to error.
func (c *Controller) runLoop(ctx context.Context, botInstanceID int64, b broker.Broker, strat *strategy.PMCC) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, err := c.storage.GetBotStatus(botInstanceID)
		if err != nil {
			c.recordLoopError(botInstanceID, err)
			return
		}
		if status.Status != models.StateActive {
			c.logger.Printf("Bot %d no longer active, worker exiting", botInstanceID)
			return
		}

		if err := c.runIteration(ctx, botInstanceID, b, strat); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.recordLoopError(botInstanceID, err)
			return
		}

		// StopBot may have written inactive while the iteration was in
		// flight; re-read before checking in so the stale active row read
		// at the top of the loop is never written back.
		if ctx.Err() != nil {
			return
		}
		status, err = c.storage.GetBotStatus(botInstanceID)
		if err != nil {
			c.logger.Printf("Bot %d check-in read failed: %v", botInstanceID, err)
			return
		}
		if status.Status != models.StateActive {
			c.logger.Printf("Bot %d no longer active, worker exiting", botInstanceID)
			return
		}
		status.CheckIn()
		if err := c.storage.UpsertBotStatus(status); err != nil {
			c.logger.Printf("Bot %d check-in write failed: %v", botInstanceID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// runIteration performs one observe-analyze-execute-persist cycle.
// A no-opportunity outcome is not an error.
func (c *Controller) runIteration(ctx context.Context, botInstanceID int64, b broker.Broker, strat *strategy.PMCC) error {
	symbol := c.cfg.Strategy.Symbol

	data, err := c.fetchMarketData(ctx, b, symbol, strat.Parameters().MaxDTELong)
	if err != nil {
		return err
	}

	proposal, err := strat.Analyze(*data)
	if err != nil {
		if errors.Is(err, strategy.ErrNoOpportunity) {
			return nil
		}
		return err
	}

	c.logger.Printf("Bot %d found opportunity: %s long %.0f / short %.0f, %d contracts, debit %.2f",
		botInstanceID, proposal.Symbol, proposal.LongLeg.Strike, proposal.ShortLeg.Strike,
		proposal.Contracts, proposal.NetDebit)

	result, err := strat.Execute(ctx, proposal)
	if err != nil {
		return err
	}

	return c.persistExecution(botInstanceID, b, result)
}

// fetchMarketData pulls the underlying quote and the option chains for all
// expirations inside the long-leg window.
func (c *Controller) fetchMarketData(ctx context.Context, b broker.Broker, symbol string, maxDTE int) (*strategy.MarketData, error) {
	quotes, err := b.GetQuotes([]string{symbol}, false)
	if err != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	quote, ok := quotes[symbol]
	if !ok || quote.Last <= 0 {
		return nil, fmt.Errorf("no usable quote for %s", symbol)
	}

	expirations, err := b.GetExpirations(symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", symbol, err)
	}

	now := time.Now()
	var chain []broker.Option
	for _, exp := range expirations {
		expTime, err := time.Parse("2006-01-02", exp)
		if err != nil {
			continue
		}
		dte := broker.DaysBetween(now, expTime)
		if dte < 0 || dte > maxDTE {
			continue
		}
		options, err := b.GetOptionChain(symbol, exp, true)
		if err != nil {
			return nil, fmt.Errorf("fetching chain %s %s: %w", symbol, exp, err)
		}
		chain = append(chain, options...)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	return &strategy.MarketData{
		Symbol:       symbol,
		CurrentPrice: quote.Last,
		Chain:        chain,
	}, nil
}

// persistExecution writes one order record per leg and folds the trade into
// the bot's position for the underlying. Orders not yet filled at the
// broker get a background fill poller.
func (c *Controller) persistExecution(botInstanceID int64, b broker.Broker, result *strategy.ExecutionResult) error {
	proposal := result.Proposal

	legs := []struct {
		leg   broker.Option
		side  string
		price float64
		resp  *broker.OrderResponse
	}{
		{proposal.LongLeg, broker.SideBuyToOpen, proposal.LongLeg.Ask, result.LongOrder},
		{proposal.ShortLeg, broker.SideSellToOpen, proposal.ShortLeg.Bid, result.ShortOrder},
	}

	for _, l := range legs {
		order := &models.TradeOrder{
			BotInstanceID: botInstanceID,
			BrokerOrderID: l.resp.Order.ID,
			Symbol:        proposal.Symbol,
			OptionSymbol:  l.leg.Symbol,
			Side:          l.side,
			OrderType:     "limit",
			Quantity:      proposal.Contracts,
			Price:         l.price,
			Status:        orderStatusFromResponse(l.resp),
		}
		if err := c.storage.InsertTradeOrder(order); err != nil {
			return fmt.Errorf("recording %s order: %w", l.side, err)
		}
		if order.Status == models.OrderPending {
			poller := orders.NewManager(b, c.storage, c.logger, nil)
			go poller.PollOrderStatus(order.ID, order.BrokerOrderID)
		}
	}

	pos, err := c.storage.GetPosition(botInstanceID, proposal.Symbol)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pos = &models.PositionRecord{
			BotInstanceID: botInstanceID,
			Symbol:        proposal.Symbol,
			Quantity:      proposal.Contracts,
			AverageCost:   proposal.NetDebit,
		}
	case err != nil:
		return fmt.Errorf("reading position: %w", err)
	default:
		pos.Merge(proposal.Contracts, proposal.NetDebit)
	}
	if err := c.storage.UpsertPosition(pos); err != nil {
		return fmt.Errorf("upserting position: %w", err)
	}

	c.logger.Printf("Bot %d executed %d contracts of %s PMCC, position now %d @ %.2f",
		botInstanceID, proposal.Contracts, proposal.Symbol, pos.Quantity, pos.AverageCost)
	return nil
}

// recordLoopError transitions the bot to error with the failure message.
// The worker terminates; an explicit start is required to resume.
func (c *Controller) recordLoopError(botInstanceID int64, loopErr error) {
	c.logger.Printf("Bot %d trading loop error: %v", botInstanceID, loopErr)

	status, err := c.storage.GetBotStatus(botInstanceID)
	if err != nil {
		c.logger.Printf("Bot %d could not read status to record error: %v", botInstanceID, err)
		return
	}
	if terr := status.Transition(models.StateError, fmt.Sprintf("Trading loop error: %s", loopErr)); terr != nil {
		c.logger.Printf("Bot %d error transition rejected: %v", botInstanceID, terr)
		return
	}
	if err := c.storage.UpsertBotStatus(status); err != nil {
		c.logger.Printf("Bot %d could not persist error status: %v", botInstanceID, err)
	}
}

func orderStatusFromResponse(resp *broker.OrderResponse) models.OrderStatus {
	switch resp.Order.Status {
	case "filled":
		return models.OrderFilled
	case "canceled", "cancelled", "expired":
		return models.OrderCanceled
	case "rejected":
		return models.OrderRejected
	default:
		return models.OrderPending
	}
}

func strategyParams(cfg *config.Config) strategy.Params {
	s := cfg.Strategy
	return strategy.Params{
		TargetDelta:    s.TargetDelta,
		MinDTELong:     s.MinDTELong,
		MaxDTELong:     s.MaxDTELong,
		MinDeltaShort:  s.MinDeltaShort,
		MaxDeltaShort:  s.MaxDeltaShort,
		MaxDTEShort:    s.MaxDTEShort,
		MaxNetDebit:    s.MaxNetDebit,
		RiskFreeRate:   s.RiskFreeRate,
		MaxPositionPct: s.MaxPositionPct,
	}
}
