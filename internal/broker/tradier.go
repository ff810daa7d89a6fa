// Package broker provides brokerage gateway clients for the trading bot.
// It includes the Tradier API implementation used to fetch market data and
// place the single-leg option orders that make up a PMCC position.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Order sides accepted by the options order endpoint.
const (
	SideBuyToOpen   = "buy_to_open"
	SideSellToOpen  = "sell_to_open"
	SideBuyToClose  = "buy_to_close"
	SideSellToClose = "sell_to_close"
)

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is the low-level Tradier REST client.
type TradierAPI struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	accountID string
	sandbox   bool
	timeout   time.Duration
}

// NewTradierAPI creates a new TradierAPI client with default settings.
func NewTradierAPI(apiKey, accountID string, sandbox bool) *TradierAPI {
	return NewTradierAPIWithBaseURL(apiKey, accountID, sandbox, "")
}

// NewTradierAPIWithBaseURL creates a new TradierAPI client with a custom
// base URL, used by tests to point the client at a local server.
func NewTradierAPIWithBaseURL(apiKey, accountID string, sandbox bool, baseURL string) *TradierAPI {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	const defaultTimeout = 10 * time.Second
	return &TradierAPI{
		apiKey:    apiKey,
		baseURL:   baseURL,
		accountID: accountID,
		client:    &http.Client{Timeout: defaultTimeout},
		sandbox:   sandbox,
		timeout:   defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// WithTimeout sets the HTTP client timeout duration.
func (t *TradierAPI) WithTimeout(timeout time.Duration) *TradierAPI {
	t.timeout = timeout
	if t.client != nil {
		t.client.Timeout = timeout
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// OptionChainResponse represents the API response for option chain requests.
type OptionChainResponse struct {
	Options struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

// Option represents an option contract snapshot from the Tradier API.
type Option struct {
	Greeks         *Greeks `json:"greeks,omitempty"`
	Symbol         string  `json:"symbol"`
	Description    string  `json:"description"`
	OptionType     string  `json:"option_type"`
	ExpirationDate string  `json:"expiration_date"`
	Underlying     string  `json:"underlying"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	BidSize        int     `json:"bid_size"`
	AskSize        int     `json:"ask_size"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	Strike         float64 `json:"strike"`
}

// Greeks contains option Greeks data from the Tradier API.
type Greeks struct {
	UpdatedAt string  `json:"updated_at"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	Rho       float64 `json:"rho"`
	BidIV     float64 `json:"bid_iv"`
	MidIV     float64 `json:"mid_iv"`
	AskIV     float64 `json:"ask_iv"`
}

// Delta returns the option's delta and whether it is present in the snapshot.
func (o *Option) Delta() (float64, bool) {
	if o.Greeks == nil {
		return 0, false
	}
	return o.Greeks.Delta, true
}

// ExpirationTime parses the option's YYYY-MM-DD expiration date.
func (o *Option) ExpirationTime() (time.Time, error) {
	return time.Parse("2006-01-02", o.ExpirationDate)
}

// DTE returns the option's days to expiration relative to now, or an error
// if the expiration date is unparsable.
func (o *Option) DTE(now time.Time) (int, error) {
	exp, err := o.ExpirationTime()
	if err != nil {
		return 0, err
	}
	return DaysBetween(now, exp), nil
}

// DaysBetween calculates the number of calendar days from one date to another.
// The result is negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f).Hours() / 24)
}

// PositionsResponse represents the positions response from the Tradier API.
type PositionsResponse struct {
	Positions PositionsWrapper `json:"positions"`
}

// PositionsWrapper handles the case where positions can be "null" string or an object
type PositionsWrapper struct {
	Position singleOrArray[PositionItem] `json:"position"`
}

func (pw *PositionsWrapper) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*pw = PositionsWrapper{}
		return nil
	}
	type normalWrapper PositionsWrapper
	return json.Unmarshal(b, (*normalWrapper)(pw))
}

// PositionItem represents a single account position from the Tradier API.
type PositionItem struct {
	DateAcquired string  `json:"date_acquired"`
	Symbol       string  `json:"symbol"`
	CostBasis    float64 `json:"cost_basis"`
	ID           int     `json:"id"`
	Quantity     float64 `json:"quantity"`
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
// Option quotes requested with greeks enabled carry a Greeks block.
type QuoteItem struct {
	Greeks           *Greeks `json:"greeks,omitempty"`
	Symbol           string  `json:"symbol"`
	Description      string  `json:"description"`
	Type             string  `json:"type"`
	Low              float64 `json:"low"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Close            float64 `json:"close"`
	PrevClose        float64 `json:"prevclose"`
	ChangePercentage float64 `json:"change_percentage"`
	Volume           int64   `json:"volume"`
	Bid              float64 `json:"bid"`
	BidSize          int     `json:"bidsize"`
	Ask              float64 `json:"ask"`
	AskSize          int     `json:"asksize"`
	Last             float64 `json:"last"`
}

// ExpirationsResponse represents the expirations response from the Tradier API.
type ExpirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

// BalanceResponse represents the account balances response from the Tradier API.
type BalanceResponse struct {
	Balances struct {
		TotalEquity  float64 `json:"total_equity"`
		TotalCash    float64 `json:"total_cash"`
		OptionBP     float64 `json:"option_buying_power"`
		StockBP      float64 `json:"stock_buying_power"`
		MarketValue  float64 `json:"market_value"`
		OpenPL       float64 `json:"open_pl"`
		ClosePL      float64 `json:"close_pl"`
		AccountValue float64 `json:"account_value"`
	} `json:"balances"`
}

// OrderResponse represents the order response from the Tradier API.
type OrderResponse struct {
	Order struct {
		CreateDate        string  `json:"create_date"`
		Type              string  `json:"type"`
		Symbol            string  `json:"symbol"`
		Side              string  `json:"side"`
		Class             string  `json:"class"`
		Status            string  `json:"status"`
		Duration          string  `json:"duration"`
		AvgFillPrice      float64 `json:"avg_fill_price"`
		ExecQuantity      float64 `json:"exec_quantity"`
		RemainingQuantity float64 `json:"remaining_quantity"`
		ID                int     `json:"id"`
		Price             float64 `json:"price"`
		Quantity          float64 `json:"quantity"`
	} `json:"order"`
}

// OrdersResponse represents the account orders listing from the Tradier API.
type OrdersResponse struct {
	Orders struct {
		Order singleOrArray[OrderItem] `json:"order"`
	} `json:"orders"`
}

// OrderItem represents a single order in the account orders listing.
type OrderItem struct {
	CreateDate   string  `json:"create_date"`
	Type         string  `json:"type"`
	Symbol       string  `json:"symbol"`
	OptionSymbol string  `json:"option_symbol"`
	Side         string  `json:"side"`
	Class        string  `json:"class"`
	Status       string  `json:"status"`
	Duration     string  `json:"duration"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	ID           int     `json:"id"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
}

// OptionOrderRequest describes one single-leg option order.
type OptionOrderRequest struct {
	Symbol       string  // underlying symbol
	OptionSymbol string  // OCC option symbol
	Side         string  // buy_to_open | sell_to_open | buy_to_close | sell_to_close
	Quantity     int
	Type         string  // limit | market
	Duration     string  // day | gtc
	Price        float64 // limit price, required for limit orders
	Tag          string  // optional idempotency tag
	Preview      bool
}

// FormatOCCSymbol builds an OCC option symbol: SYMBOL + YYMMDD + C/P +
// 8-digit strike in thousandths of a dollar.
func FormatOCCSymbol(symbol, expiration, optionType string, strike float64) (string, error) {
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return "", fmt.Errorf("invalid expiration format: %w", err)
	}
	var cp string
	switch strings.ToLower(optionType) {
	case "call":
		cp = "C"
	case "put":
		cp = "P"
	default:
		return "", fmt.Errorf("invalid option type: %q", optionType)
	}
	// eps guards strikes like 394.9995 against truncating a thousandth short
	const eps = 1e-9
	strikeInt := int(math.Round(strike*1000 + eps))
	return fmt.Sprintf("%s%s%s%08d", symbol, expDate.Format("060102"), cp, strikeInt), nil
}

// ============ API Methods ============

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuote(symbol string) (*QuoteItem, error) {
	quotes, err := t.GetQuotes([]string{symbol}, false)
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	return &q, nil
}

// GetQuotes retrieves market quotes for the given symbols, keyed by symbol.
func (t *TradierAPI) GetQuotes(symbols []string, greeks bool) (map[string]QuoteItem, error) {
	return t.GetQuotesCtx(context.Background(), symbols, greeks)
}

// GetQuotesCtx retrieves market quotes with context support.
func (t *TradierAPI) GetQuotesCtx(ctx context.Context, symbols []string, greeks bool) (map[string]QuoteItem, error) {
	if len(symbols) == 0 {
		return map[string]QuoteItem{}, nil
	}
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("greeks", fmt.Sprintf("%t", greeks))
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := make(map[string]QuoteItem, len(response.Quotes.Quote))
	for _, q := range response.Quotes.Quote {
		quotes[q.Symbol] = q
	}
	return quotes, nil
}

// GetExpirations retrieves available expiration dates for options on a symbol.
func (t *TradierAPI) GetExpirations(symbol string) ([]string, error) {
	return t.GetExpirationsCtx(context.Background(), symbol)
}

// GetExpirationsCtx retrieves available expiration dates with context support.
func (t *TradierAPI) GetExpirationsCtx(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response ExpirationsResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Expirations.Date, nil
}

// GetOptionChain retrieves the option chain for a symbol and expiration date.
func (t *TradierAPI) GetOptionChain(symbol, expiration string, greeks bool) ([]Option, error) {
	return t.GetOptionChainCtx(context.Background(), symbol, expiration, greeks)
}

// GetOptionChainCtx retrieves the option chain with context support.
func (t *TradierAPI) GetOptionChainCtx(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", fmt.Sprintf("%t", greeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return []Option(response.Options.Option), nil
}

// GetPositions retrieves current account positions.
func (t *TradierAPI) GetPositions() ([]PositionItem, error) {
	return t.GetPositionsCtx(context.Background())
}

// GetPositionsCtx retrieves current account positions with context support.
func (t *TradierAPI) GetPositionsCtx(ctx context.Context) ([]PositionItem, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)

	var response PositionsResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return []PositionItem(response.Positions.Position), nil
}

// GetBalance retrieves account balances.
func (t *TradierAPI) GetBalance() (*BalanceResponse, error) {
	return t.GetBalanceCtx(context.Background())
}

// GetBalanceCtx retrieves account balances with context support.
func (t *TradierAPI) GetBalanceCtx(ctx context.Context) (*BalanceResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", t.baseURL, t.accountID)

	var response BalanceResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetOrders retrieves all orders for the account.
func (t *TradierAPI) GetOrders() ([]OrderItem, error) {
	return t.GetOrdersCtx(context.Background())
}

// GetOrdersCtx retrieves all orders for the account with context support.
func (t *TradierAPI) GetOrdersCtx(ctx context.Context) ([]OrderItem, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)

	var response OrdersResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return []OrderItem(response.Orders.Order), nil
}

// GetOrderStatus retrieves the status of an existing order.
func (t *TradierAPI) GetOrderStatus(orderID int) (*OrderResponse, error) {
	return t.GetOrderStatusCtx(context.Background(), orderID)
}

// GetOrderStatusCtx retrieves the status of an existing order with context support.
func (t *TradierAPI) GetOrderStatusCtx(ctx context.Context, orderID int) (*OrderResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%d", t.baseURL, t.accountID, orderID)

	var response OrderResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// PlaceOptionOrder places a single-leg option order.
func (t *TradierAPI) PlaceOptionOrder(req OptionOrderRequest) (*OrderResponse, error) {
	return t.PlaceOptionOrderCtx(context.Background(), req)
}

// PlaceOptionOrderCtx places a single-leg option order with context support.
func (t *TradierAPI) PlaceOptionOrderCtx(ctx context.Context, req OptionOrderRequest) (*OrderResponse, error) {
	switch req.Side {
	case SideBuyToOpen, SideSellToOpen, SideBuyToClose, SideSellToClose:
	default:
		return nil, fmt.Errorf("invalid order side: %q", req.Side)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid order quantity: %d (must be > 0)", req.Quantity)
	}

	orderType := req.Type
	if orderType == "" {
		orderType = "limit"
	}
	if orderType == "limit" && req.Price <= 0 {
		return nil, fmt.Errorf("invalid limit price: %.2f (must be > 0)", req.Price)
	}

	duration := req.Duration
	if duration == "" {
		duration = "day"
	}
	switch duration {
	case "day", "gtc", "pre", "post":
	default:
		return nil, fmt.Errorf("invalid duration %q: must be one of 'day', 'gtc', 'pre', or 'post'", duration)
	}

	params := url.Values{}
	params.Add("class", "option")
	params.Add("symbol", req.Symbol)
	params.Add("option_symbol", req.OptionSymbol)
	params.Add("side", req.Side)
	params.Add("quantity", fmt.Sprintf("%d", req.Quantity))
	params.Add("type", orderType)
	params.Add("duration", duration)
	if orderType == "limit" {
		params.Add("price", fmt.Sprintf("%.2f", req.Price))
	}
	if req.Tag != "" {
		params.Add("tag", req.Tag)
	}
	if req.Preview {
		params.Add("preview", "true")
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)

	var response OrderResponse
	if err := t.makeRequestCtx(ctx, "POST", endpoint, params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CancelOrder cancels an existing order.
func (t *TradierAPI) CancelOrder(orderID int) error {
	return t.CancelOrderCtx(context.Background(), orderID)
}

// CancelOrderCtx cancels an existing order with context support.
func (t *TradierAPI) CancelOrderCtx(ctx context.Context, orderID int) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%d", t.baseURL, t.accountID, orderID)

	var response OrderResponse
	return t.makeRequestCtx(ctx, "DELETE", endpoint, nil, &response)
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == "POST" && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "kelly-kapoor/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
