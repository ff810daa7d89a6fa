/// Package strategy implements the poor man's covered call trade logic:
// leg selection over an option chain, trade construction with Kelly-based
// position sizing, and order execution with a compensating cancel.
package strategy

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/kelly_kapoor/internal/broker"
	"github.com/eddiefleurent/kelly_kapoor/internal/retry"
	"github.com/eddiefleurent/kelly_kapoor/internal/sizing"
	"github.com/eddiefleurent/kelly_kapoor/internal/util"
)

// optionTickSize is the price increment limit orders are rounded to.
const optionTickSize = 0.01

// shortExpiryWindowDays bounds how far out a short-leg expiration may be
// when narrowing the chain to near-dated OTM calls.
const shortExpiryWindowDays = 7

// Params holds the tunable strategy parameters. RiskFreeRate is carried
// for reporting but does not enter the sizing math.
type Params struct {
	TargetDelta    float64 // minimum delta for the long leg
	MinDTELong     int
	MaxDTELong     int
	MinDeltaShort  float64
	MaxDeltaShort  float64
	MaxDTEShort    int
	MaxNetDebit    float64
	RiskFreeRate   float64
	MaxPositionPct float64 // cap on capital allocated per position, 0 treated as 1.0
}

// MarketData is one evaluation cycle's snapshot of the market.
type MarketData struct {
	Symbol       string
	CurrentPrice float64
	Chain        []broker.Option
}

// TradeProposal is a fully validated, sized PMCC candidate. It is built
// fresh per Analyze call and never mutated afterwards.
type TradeProposal struct {
	Symbol          string
	LongLeg         broker.Option
	ShortLeg        broker.Option
	NetDebit        float64 // (long ask - short bid) * 100
	Breakeven       float64
	CapitalRequired float64
	WinProbability  float64
	PayoutRatio     float64
	Contracts       int
	TradeType       string
}

// ExecutionResult carries both order confirmations for an executed proposal.
type ExecutionResult struct {
	LongOrder  *broker.OrderResponse
	ShortOrder *broker.OrderResponse
	Proposal   *TradeProposal
}

// PMCC scans option chains for poor man's covered call entries and places
// the two legs. Safe for concurrent use; Analyze returns the proposal it
// found rather than storing it, so concurrent callers do not race.
type PMCC struct {
	broker   broker.Broker
	logger   *log.Logger
	canceler *retry.Client

	mu     sync.RWMutex
	params Params

	now func() time.Time
}

// New creates a PMCC strategy with the given broker and parameters.
func New(b broker.Broker, logger *log.Logger, params Params) *PMCC {
	if params.MaxPositionPct == 0 {
		params.MaxPositionPct = 1.0
	}
	return &PMCC{
		broker:   b,
		logger:   logger,
		canceler: retry.NewClient(b, logger),
		params:   params,
		now:      time.Now,
	}
}

// Parameters returns a copy of the current strategy parameters.
func (s *PMCC) Parameters() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParameters replaces the strategy parameters. Validation failures are
// logged as warnings but do not reject the update; callers needing strict
// behavior should check Validate themselves.
func (s *PMCC) SetParameters(params Params) {
	if params.MaxPositionPct == 0 {
		params.MaxPositionPct = 1.0
	}
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()

	if err := s.Validate(); err != nil {
		s.logger.Printf("Warning: parameters set but validation failed: %v", err)
	}
}

// Validate checks the current parameter bounds.
func (s *PMCC) Validate() error {
	p := s.Parameters()
	if p.TargetDelta < 0 || p.TargetDelta > 1 {
		return fmt.Errorf("target delta %.2f outside [0,1]", p.TargetDelta)
	}
	if p.MinDTELong <= 0 || p.MaxDTELong < p.MinDTELong {
		return fmt.Errorf("long DTE bounds [%d,%d] invalid", p.MinDTELong, p.MaxDTELong)
	}
	if p.MinDeltaShort < 0 || p.MaxDeltaShort > 1 || p.MaxDeltaShort < p.MinDeltaShort {
		return fmt.Errorf("short delta bounds [%.2f,%.2f] invalid", p.MinDeltaShort, p.MaxDeltaShort)
	}
	if p.MaxDTEShort <= 0 {
		return fmt.Errorf("max short DTE %d must be positive", p.MaxDTEShort)
	}
	if p.MaxNetDebit <= 0 {
		return fmt.Errorf("max net debit %.2f must be positive", p.MaxNetDebit)
	}
	if p.MaxPositionPct < 0 || p.MaxPositionPct > 1 {
		return fmt.Errorf("max position pct %.2f outside [0,1]", p.MaxPositionPct)
	}
	return nil
}

// Analyze scans the chain for a qualifying PMCC entry. It returns
// ErrNoOpportunity when the chain holds no qualifying pair of legs or the
// constructed trade fails a constraint; that is the normal idle outcome.
func (s *PMCC) Analyze(data MarketData) (*TradeProposal, error) {
	if len(data.Chain) == 0 || data.CurrentPrice <= 0 {
		return nil, ErrNoOpportunity
	}

	longCall := s.selectLongCall(data.Chain)
	if longCall == nil {
		return nil, ErrNoOpportunity
	}
	shortCall := s.selectShortCall(data.Chain, data.CurrentPrice)
	if shortCall == nil {
		return nil, ErrNoOpportunity
	}

	proposal := s.identifyTrade(longCall, shortCall, data.CurrentPrice)
	if proposal == nil {
		return nil, ErrNoOpportunity
	}
	if data.Symbol != "" {
		proposal.Symbol = data.Symbol
	}
	return proposal, nil
}

// Execute places the long leg then the short leg of the proposal. If the
// long order fails nothing else is attempted. If the short order fails
// after the long filled, the long order is canceled before reporting
// failure, so a one-sided naked position is not left behind.
func (s *PMCC) Execute(ctx context.Context, proposal *TradeProposal) (*ExecutionResult, error) {
	if proposal == nil {
		return nil, ErrNoOpportunity
	}

	// one tag per execution ties both legs together at the broker
	tag := "pmcc-" + uuid.NewString()

	longReq := broker.OptionOrderRequest{
		Symbol:       proposal.Symbol,
		OptionSymbol: proposal.LongLeg.Symbol,
		Side:         broker.SideBuyToOpen,
		Quantity:     proposal.Contracts,
		Type:         "limit",
		Duration:     "day",
		Price:        util.RoundToTick(proposal.LongLeg.Ask, optionTickSize),
		Tag:          tag,
	}
	longOrder, err := s.broker.PlaceOptionOrderCtx(ctx, longReq)
	if err != nil {
		return nil, fmt.Errorf("%w: long leg %s: %v", ErrOrderFailed, proposal.LongLeg.Symbol, err)
	}
	s.logger.Printf("Long leg placed: order %d %s x%d @ %.2f",
		longOrder.Order.ID, proposal.LongLeg.Symbol, proposal.Contracts, longReq.Price)

	shortReq := broker.OptionOrderRequest{
		Symbol:       proposal.Symbol,
		OptionSymbol: proposal.ShortLeg.Symbol,
		Side:         broker.SideSellToOpen,
		Quantity:     proposal.Contracts,
		Type:         "limit",
		Duration:     "day",
		Price:        util.RoundToTick(proposal.ShortLeg.Bid, optionTickSize),
		Tag:          tag,
	}
	shortOrder, err := s.broker.PlaceOptionOrderCtx(ctx, shortReq)
	if err != nil {
		s.logger.Printf("Short leg failed, canceling long order %d: %v", longOrder.Order.ID, err)
		if cancelErr := s.canceler.CancelOrderWithRetry(ctx, longOrder.Order.ID); cancelErr != nil {
			s.logger.Printf("Failed to cancel long order %d: %v", longOrder.Order.ID, cancelErr)
		}
		return nil, fmt.Errorf("%w: short leg %s: %v", ErrOrderFailed, proposal.ShortLeg.Symbol, err)
	}
	s.logger.Printf("Short leg placed: order %d %s x%d @ %.2f",
		shortOrder.Order.ID, proposal.ShortLeg.Symbol, proposal.Contracts, shortReq.Price)

	return &ExecutionResult{
		LongOrder:  longOrder,
		ShortOrder: shortOrder,
		Proposal:   proposal,
	}, nil
}

// selectLongCall picks the deep ITM long-dated leg: calls whose delta meets
// the target and whose DTE lies within the long window, highest delta first.
func (s *PMCC) selectLongCall(chain []broker.Option) *broker.Option {
	p := s.Parameters()
	now := s.now()

	var candidates []broker.Option
	for _, opt := range chain {
		if opt.OptionType != string(broker.OptionTypeCall) {
			continue
		}
		delta, ok := opt.Delta()
		if !ok {
			continue
		}
		dte, err := opt.DTE(now)
		if err != nil {
			continue
		}
		if delta >= p.TargetDelta && dte >= p.MinDTELong && dte <= p.MaxDTELong {
			candidates = append(candidates, opt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, _ := candidates[i].Delta()
		dj, _ := candidates[j].Delta()
		return di > dj
	})
	return &candidates[0]
}

// filterOTMDailyCalls narrows the chain to OTM calls in the single nearest
// expiration within the short-dated window. Returns nil when no expiration
// qualifies.
func (s *PMCC) filterOTMDailyCalls(chain []broker.Option, currentPrice float64) []broker.Option {
	now := s.now()

	byExpiry := make(map[string][]broker.Option)
	for _, opt := range chain {
		if opt.OptionType != string(broker.OptionTypeCall) || opt.Strike <= currentPrice {
			continue
		}
		dte, err := opt.DTE(now)
		if err != nil {
			continue
		}
		if dte >= 0 && dte <= shortExpiryWindowDays {
			byExpiry[opt.ExpirationDate] = append(byExpiry[opt.ExpirationDate], opt)
		}
	}
	if len(byExpiry) == 0 {
		return nil
	}

	// ISO dates order lexicographically, so min(string) is the nearest expiry.
	nearest := ""
	for exp := range byExpiry {
		if nearest == "" || exp < nearest {
			nearest = exp
		}
	}
	return byExpiry[nearest]
}

// selectShortCall picks the near-dated OTM leg. Candidates missing a delta
// get one live-quote backfill; a failed backfill skips the candidate rather
// than aborting the scan. Survivors are ranked by expiration, then by
// distance from the midpoint of the short delta band.
func (s *PMCC) selectShortCall(chain []broker.Option, currentPrice float64) *broker.Option {
	p := s.Parameters()
	now := s.now()

	candidates := s.filterOTMDailyCalls(chain, currentPrice)

	var shortCalls []broker.Option
	for _, opt := range candidates {
		delta, ok := opt.Delta()
		if !ok {
			backfilled, err := s.backfillDelta(&opt)
			if err != nil {
				s.logger.Printf("Error fetching quote for %s: %v", opt.Symbol, err)
				continue
			}
			if !backfilled {
				continue
			}
			delta, _ = opt.Delta()
		}

		dte, err := opt.DTE(now)
		if err != nil {
			continue
		}
		if delta >= p.MinDeltaShort && delta <= p.MaxDeltaShort && dte <= p.MaxDTEShort {
			shortCalls = append(shortCalls, opt)
		}
	}
	if len(shortCalls) == 0 {
		return nil
	}

	midDelta := (p.MinDeltaShort + p.MaxDeltaShort) / 2
	sort.SliceStable(shortCalls, func(i, j int) bool {
		if shortCalls[i].ExpirationDate != shortCalls[j].ExpirationDate {
			return shortCalls[i].ExpirationDate < shortCalls[j].ExpirationDate
		}
		di, _ := shortCalls[i].Delta()
		dj, _ := shortCalls[j].Delta()
		return math.Abs(di-midDelta) < math.Abs(dj-midDelta)
	})
	return &shortCalls[0]
}

// backfillDelta fetches a live quote with greeks for one option symbol and
// writes the delta onto opt. Returns false when the quote carried no greeks.
func (s *PMCC) backfillDelta(opt *broker.Option) (bool, error) {
	quotes, err := s.broker.GetQuotes([]string{opt.Symbol}, true)
	if err != nil {
		return false, err
	}
	q, ok := quotes[opt.Symbol]
	if !ok || q.Greeks == nil {
		return false, nil
	}
	g := *q.Greeks
	opt.Greeks = &g
	return true, nil
}

// identifyTrade combines the two legs into a sized proposal, or returns nil
// when any structural, profitability, or sizing constraint fails. A nil
// result is an ordinary no-trade outcome.
func (s *PMCC) identifyTrade(longCall, shortCall *broker.Option, currentPrice float64) *TradeProposal {
	if longCall == nil || shortCall == nil {
		return nil
	}
	if longCall.OptionType != string(broker.OptionTypeCall) || shortCall.OptionType != string(broker.OptionTypeCall) {
		return nil
	}
	if longCall.Underlying != shortCall.Underlying {
		return nil
	}

	p := s.Parameters()

	longExp, err := longCall.ExpirationTime()
	if err != nil {
		return nil
	}
	shortExp, err := shortCall.ExpirationTime()
	if err != nil {
		return nil
	}

	if shortCall.Strike <= longCall.Strike {
		s.logger.Printf("Rejected: short strike %.2f <= long strike %.2f", shortCall.Strike, longCall.Strike)
		return nil
	}
	if !shortExp.Before(longExp) {
		s.logger.Printf("Rejected: short expiration %s >= long expiration %s",
			shortCall.ExpirationDate, longCall.ExpirationDate)
		return nil
	}

	netDebit := (longCall.Ask - shortCall.Bid) * 100
	breakeven := longCall.Strike + netDebit/100
	capitalRequired := netDebit

	// Width plus premium received must exceed the cost of the long leg,
	// otherwise the position cannot profit even at full assignment.
	profitable := (shortCall.Strike-longCall.Strike)*100+shortCall.Bid*100 > longCall.Ask*100
	if !profitable {
		s.logger.Printf("Rejected: profitability check failed for %s/%.0f-%.0f",
			longCall.Underlying, longCall.Strike, shortCall.Strike)
		return nil
	}
	if capitalRequired > p.MaxNetDebit {
		s.logger.Printf("Rejected: capital required %.2f > max net debit %.2f", capitalRequired, p.MaxNetDebit)
		return nil
	}

	equity, err := s.broker.GetAccountBalance()
	if err != nil {
		s.logger.Printf("Could not retrieve account balance for position sizing: %v", err)
		return nil
	}

	shortDelta, ok := shortCall.Delta()
	if !ok {
		shortDelta = 0.5
	}
	winProbability := 1 - shortDelta

	maxProfit := (shortCall.Strike-longCall.Strike)*100 - netDebit
	maxLoss := netDebit
	if maxLoss <= 0 {
		return nil
	}
	payoutRatio := maxProfit / maxLoss
	if winProbability <= 0 || payoutRatio <= 0 {
		return nil
	}

	fullKelly, err := sizing.KellyPercentage(winProbability, payoutRatio)
	if err != nil {
		s.logger.Printf("Kelly calculation failed: %v", err)
		return nil
	}
	fracKelly, err := sizing.FractionalKelly(fullKelly)
	if err != nil || fracKelly <= 0 {
		return nil
	}

	contracts, err := sizing.PositionSize(equity, fracKelly, capitalRequired, p.MaxPositionPct)
	if err != nil {
		s.logger.Printf("Position sizing failed: %v", err)
		return nil
	}
	if contracts <= 0 {
		return nil
	}

	return &TradeProposal{
		Symbol:          longCall.Underlying,
		LongLeg:         *longCall,
		ShortLeg:        *shortCall,
		NetDebit:        netDebit,
		Breakeven:       breakeven,
		CapitalRequired: capitalRequired,
		WinProbability:  winProbability,
		PayoutRatio:     payoutRatio,
		Contracts:       contracts,
		TradeType:       "PMCC",
	}
}
