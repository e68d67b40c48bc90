package demo

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectorcore/internal/auth"
	"connectorcore/internal/throttler"
	"connectorcore/internal/timesync"
	"connectorcore/internal/wsassistant"
	"connectorcore/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVenue(t *testing.T, handler http.HandlerFunc) (*Venue, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	symbols := types.NewSymbolMap()
	pair := types.NewTradingPair("BTC", "USDT")
	symbols.Add(pair, "BTCUSDT")

	signer := auth.NewHMACSigner(auth.Credentials{
		APIKey: "key", Secret: "c2VjcmV0", Passphrase: "pass",
	}, "X-TS", "X-SIGN", "X-KEY", "X-PASS")

	rest := wsassistant.New(srv.URL, 5*time.Second, throttler.New(), signer, timesync.New(), nil, discardLogger())
	v := New("demo", rest, symbols, defaultFeeSchema, 8*time.Hour)
	return v, srv
}

func testPair() types.TradingPair { return types.NewTradingPair("BTC", "USDT") }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestFetchTradingRules(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/instruments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, instrumentsResp{Instruments: []instrumentResp{
			{Symbol: "BTCUSDT", MinOrderQty: "0.001", MaxOrderQty: "100", PriceTick: "0.5", QtyStep: "0.001", MinNotional: "10"},
		}})
	})
	defer srv.Close()

	rules, err := v.FetchTradingRules(t.Context())
	if err != nil {
		t.Fatalf("FetchTradingRules: %v", err)
	}
	rule, ok := rules[testPair()]
	if !ok {
		t.Fatal("expected a rule for BTC-USDT")
	}
	if !rule.MinOrderSize.Equal(mustDecimal("0.001")) {
		t.Errorf("MinOrderSize = %v, want 0.001", rule.MinOrderSize)
	}
}

func TestPlaceOrderSendsSignedRequest(t *testing.T) {
	var gotAuth bool
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-SIGN") != "" {
			gotAuth = true
		}
		var body placeOrderReq
		json.NewDecoder(r.Body).Decode(&body)
		if body.Symbol != "BTCUSDT" {
			t.Errorf("Symbol = %q, want BTCUSDT", body.Symbol)
		}
		writeJSON(w, placeOrderResp{OrderID: "ex-1"})
	})
	defer srv.Close()

	order := types.NewInFlightOrder("CC-test", testPair(), types.Buy, types.Limit, mustDecimal("100"), mustDecimal("1"))
	exchangeID, err := v.PlaceOrder(t.Context(), order)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if exchangeID != "ex-1" {
		t.Errorf("exchangeID = %q, want ex-1", exchangeID)
	}
	if !gotAuth {
		t.Error("expected PlaceOrder to sign the request")
	}
}

func TestPlaceOrderUnknownPair(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called for an unmapped pair")
	})
	defer srv.Close()

	order := types.NewInFlightOrder("CC-test", types.NewTradingPair("ETH", "USDT"), types.Buy, types.Limit, mustDecimal("100"), mustDecimal("1"))
	if _, err := v.PlaceOrder(t.Context(), order); err == nil {
		t.Fatal("expected an error for an unmapped pair")
	}
}

func TestFetchOrderStatusMapsTradesAndState(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orderStatusResp{
			OrderID:          "ex-1",
			Status:           "PARTIALLY_FILLED",
			CumulativeFilled: "0.5",
			Trades: []tradeEntry{
				{TradeID: "t1", Price: "100", Qty: "0.5", Quote: "50", Timestamp: 1700000000000},
			},
		})
	})
	defer srv.Close()

	order := types.NewInFlightOrder("CC-test", testPair(), types.Buy, types.Limit, mustDecimal("100"), mustDecimal("1"))
	result, err := v.FetchOrderStatus(t.Context(), order)
	if err != nil {
		t.Fatalf("FetchOrderStatus: %v", err)
	}
	if result.State != types.PartiallyFilled {
		t.Errorf("State = %v, want PARTIALLY_FILLED", result.State)
	}
	if len(result.Trades) != 1 || result.Trades[0].TradeID != "t1" {
		t.Fatalf("Trades = %+v", result.Trades)
	}
	if !result.Trades[0].CumulativeFilledBase.Equal(mustDecimal("0.5")) {
		t.Errorf("CumulativeFilledBase = %v, want 0.5", result.Trades[0].CumulativeFilledBase)
	}
}

func TestFetchFundingInfo(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fundingInfoResp{
			IndexPrice: "100", MarkPrice: "100.1", NextFundingTime: 1700000000000, Rate: "0.0001",
		})
	})
	defer srv.Close()

	fi, err := v.FetchFundingInfo(t.Context(), testPair())
	if err != nil {
		t.Fatalf("FetchFundingInfo: %v", err)
	}
	if !fi.Rate.Equal(mustDecimal("0.0001")) {
		t.Errorf("Rate = %v, want 0.0001", fi.Rate)
	}
}

func TestFetchLatestFundingPaymentZeroWhenNone(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fundingPaymentResp{})
	})
	defer srv.Close()

	payment, err := v.FetchLatestFundingPayment(t.Context(), testPair())
	if err != nil {
		t.Fatalf("FetchLatestFundingPayment: %v", err)
	}
	if !payment.Amount.IsZero() {
		t.Errorf("Amount = %v, want zero", payment.Amount)
	}
}

func TestCallErrorOnNonOKStatus(t *testing.T) {
	v, srv := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})
	defer srv.Close()

	if _, err := v.FetchTradingRules(t.Context()); err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}
