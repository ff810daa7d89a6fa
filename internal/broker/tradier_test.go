package broker

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestNewTradierAPIWithBaseURL(t *testing.T) {
	tests := []struct {
		name        string
		sandbox     bool
		baseURL     string
		wantBaseURL string
	}{
		{"sandbox default", true, "", "https://sandbox.tradier.com/v1"},
		{"production default", false, "", "https://api.tradier.com/v1"},
		{"custom baseURL trimmed", false, "https://example.test/api/", "https://example.test/api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewTradierAPIWithBaseURL("k", "acc", tt.sandbox, tt.baseURL)
			if api.baseURL != tt.wantBaseURL {
				t.Fatalf("baseURL = %q, want %q", api.baseURL, tt.wantBaseURL)
			}
		})
	}
}

func TestFormatOCCSymbol(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		expiration string
		optionType string
		strike     float64
		want       string
		wantErr    bool
	}{
		{"whole strike call", "SPY", "2026-03-20", "call", 450, "SPY260320C00450000", false},
		{"fractional strike put", "SPY", "2026-03-20", "put", 447.5, "SPY260320P00447500", false},
		{"strike near thousandth boundary", "QQQ", "2026-01-16", "call", 394.9995, "QQQ260116C00395000", false},
		{"uppercase option type", "SPY", "2026-03-20", "CALL", 450, "SPY260320C00450000", false},
		{"bad expiration", "SPY", "03/20/2026", "call", 450, "", true},
		{"bad option type", "SPY", "2026-03-20", "straddle", 450, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatOCCSymbol(tt.symbol, tt.expiration, tt.optionType, tt.strike)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("FormatOCCSymbol() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOption_DeltaAndDTE(t *testing.T) {
	opt := Option{ExpirationDate: time.Now().AddDate(0, 0, 30).Format("2006-01-02")}

	if _, ok := opt.Delta(); ok {
		t.Error("Delta() ok = true with nil greeks")
	}
	opt.Greeks = &Greeks{Delta: 0.42}
	if d, ok := opt.Delta(); !ok || d != 0.42 {
		t.Errorf("Delta() = %v, %v; want 0.42, true", d, ok)
	}

	dte, err := opt.DTE(time.Now())
	if err != nil {
		t.Fatalf("DTE() error: %v", err)
	}
	if dte < 29 || dte > 30 {
		t.Errorf("DTE() = %d, want ~30", dte)
	}

	opt.ExpirationDate = "not-a-date"
	if _, err := opt.DTE(time.Now()); err == nil {
		t.Error("DTE() with bad date should error")
	}
}

func TestGetQuotes_SingleObjectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("greeks"); got != "true" {
			t.Errorf("greeks param = %q, want true", got)
		}
		// Tradier returns a bare object, not an array, for a single quote
		fmt.Fprint(w, `{"quotes":{"quote":{"symbol":"SPY","last":450.12,"bid":450.1,"ask":450.14,"greeks":{"delta":0.5}}}}`)
	}))
	defer server.Close()

	api := NewTradierAPIWithBaseURL("test-key", "acc", true, server.URL)
	quotes, err := api.GetQuotes([]string{"SPY"}, true)
	if err != nil {
		t.Fatalf("GetQuotes() error: %v", err)
	}
	q, ok := quotes["SPY"]
	if !ok {
		t.Fatal("quote for SPY missing")
	}
	if q.Last != 450.12 {
		t.Errorf("Last = %v, want 450.12", q.Last)
	}
	if q.Greeks == nil || q.Greeks.Delta != 0.5 {
		t.Errorf("Greeks = %+v, want delta 0.5", q.Greeks)
	}
}

func TestGetQuotes_EmptySymbols(t *testing.T) {
	api := NewTradierAPIWithBaseURL("k", "acc", true, "http://unreachable.invalid")
	quotes, err := api.GetQuotes(nil, false)
	if err != nil {
		t.Fatalf("GetQuotes(nil) error: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("GetQuotes(nil) = %v, want empty map without a network call", quotes)
	}
}

func TestGetOptionChain_ArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"options":{"option":[
			{"symbol":"SPY260320C00450000","option_type":"call","strike":450,"expiration_date":"2026-03-20","bid":10.1,"ask":10.3,"underlying":"SPY","greeks":{"delta":0.55}},
			{"symbol":"SPY260320P00450000","option_type":"put","strike":450,"expiration_date":"2026-03-20","bid":9.8,"ask":10.0,"underlying":"SPY"}
		]}}`)
	}))
	defer server.Close()

	api := NewTradierAPIWithBaseURL("k", "acc", true, server.URL)
	chain, err := api.GetOptionChain("SPY", "2026-03-20", true)
	if err != nil {
		t.Fatalf("GetOptionChain() error: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[0].OptionType != "call" || chain[0].Strike != 450 {
		t.Errorf("first option = %+v", chain[0])
	}
	if d, ok := chain[0].Delta(); !ok || d != 0.55 {
		t.Errorf("first option delta = %v, %v", d, ok)
	}
	if _, ok := chain[1].Delta(); ok {
		t.Error("second option should have no delta")
	}
}

func TestPlaceOptionOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error: %v", err)
		}
		checks := map[string]string{
			"class":         "option",
			"symbol":        "SPY",
			"option_symbol": "SPY260320C00450000",
			"side":          "buy_to_open",
			"quantity":      "3",
			"type":          "limit",
			"duration":      "day",
			"price":         "10.25",
		}
		for key, want := range checks {
			if got := r.PostFormValue(key); got != want {
				t.Errorf("form %s = %q, want %q", key, got, want)
			}
		}
		fmt.Fprint(w, `{"order":{"id":12345,"status":"ok"}}`)
	}))
	defer server.Close()

	api := NewTradierAPIWithBaseURL("k", "acc", true, server.URL)
	resp, err := api.PlaceOptionOrder(OptionOrderRequest{
		Symbol:       "SPY",
		OptionSymbol: "SPY260320C00450000",
		Side:         SideBuyToOpen,
		Quantity:     3,
		Type:         "limit",
		Duration:     "day",
		Price:        10.25,
	})
	if err != nil {
		t.Fatalf("PlaceOptionOrder() error: %v", err)
	}
	if resp.Order.ID != 12345 {
		t.Errorf("order id = %d, want 12345", resp.Order.ID)
	}
}

func TestPlaceOptionOrder_Validation(t *testing.T) {
	api := NewTradierAPIWithBaseURL("k", "acc", true, "http://unreachable.invalid")

	tests := []struct {
		name string
		req  OptionOrderRequest
	}{
		{"bad side", OptionOrderRequest{Side: "buy", Quantity: 1, Price: 1}},
		{"zero quantity", OptionOrderRequest{Side: SideBuyToOpen, Quantity: 0, Price: 1}},
		{"limit without price", OptionOrderRequest{Side: SideBuyToOpen, Quantity: 1, Type: "limit"}},
		{"bad duration", OptionOrderRequest{Side: SideBuyToOpen, Quantity: 1, Price: 1, Duration: "fortnight"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := api.PlaceOptionOrder(tt.req); err == nil {
				t.Error("expected validation error before any network call")
			}
		})
	}
}

func TestCancelOrder_UsesDelete(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"order":{"id":99,"status":"ok"}}`)
	}))
	defer server.Close()

	api := NewTradierAPIWithBaseURL("k", "acct-1", true, server.URL)
	if err := api.CancelOrder(99); err != nil {
		t.Fatalf("CancelOrder() error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
	if gotPath != "/accounts/acct-1/orders/99" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestMakeRequest_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "invalid token")
	}))
	defer server.Close()

	api := NewTradierAPIWithBaseURL("bad-key", "acc", true, server.URL)
	_, err := api.GetBalance()
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
}

func TestTradierClient_ConnectAndBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"balances":{"total_equity":100000.50,"total_cash":25000}}`)
	}))
	defer server.Close()

	client := NewTradierClientWithBaseURL("k", "acc", true, server.URL)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	equity, err := client.GetAccountBalance()
	if err != nil {
		t.Fatalf("GetAccountBalance() error: %v", err)
	}
	if equity != 100000.50 {
		t.Errorf("equity = %v, want 100000.50", equity)
	}
}

func TestDaysBetween(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	if got := DaysBetween(from, to); got != 20 {
		t.Errorf("DaysBetween() = %d, want 20", got)
	}
	if got := DaysBetween(to, from); got != -20 {
		t.Errorf("DaysBetween() reversed = %d, want -20", got)
	}
}
