package demo

import (
	"testing"

	"connectorcore/internal/connector"
	"connectorcore/pkg/types"
)

func newTestSymbols() *types.SymbolMap {
	symbols := types.NewSymbolMap()
	symbols.Add(types.NewTradingPair("BTC", "USDT"), "BTCUSDT")
	return symbols
}

func TestDecodeOrderUpdate(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	evt, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{
		Kind: "order", ClientOrderID: "CC-1", ExchangeOrderID: "ex-1", Status: "FILLED",
	})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Kind != connector.UserStreamOrderUpdate {
		t.Errorf("Kind = %v, want OrderUpdate", evt.Kind)
	}
	if evt.OrderUpdate.NewState != types.Filled {
		t.Errorf("NewState = %v, want FILLED", evt.OrderUpdate.NewState)
	}
}

func TestDecodeTrade(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	evt, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{
		Kind: "trade", ClientOrderID: "CC-1", TradeID: "t1", Price: "100", Qty: "1", Quote: "100", CumulativeFilled: "1",
	})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Kind != connector.UserStreamTrade || evt.Trade.TradeID != "t1" {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestDecodeBalance(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	evt, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{Kind: "balance", Asset: "USDT", Total: "1000", Available: "900"})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Balance.Asset != "USDT" || !evt.Balance.Total.Equal(mustDecimal("1000")) {
		t.Errorf("unexpected balance: %+v", evt.Balance)
	}
}

func TestDecodePosition(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	evt, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{Kind: "position", Symbol: "BTCUSDT", Side: "LONG", Qty: "1", EntryPrice: "100", Leverage: "5"})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Position.Pair != types.NewTradingPair("BTC", "USDT") {
		t.Errorf("Pair = %v", evt.Position.Pair)
	}
	if evt.Position.Side != types.PositionLong {
		t.Errorf("Side = %v, want LONG", evt.Position.Side)
	}
}

func TestDecodePositionUnknownSymbol(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	if _, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{Kind: "position", Symbol: "ETHUSDT"}); ok {
		t.Fatal("expected ok=false for an unmapped symbol")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	if _, ok := d.DecodeUserStreamEvent(rawUserStreamEvent{Kind: "mystery"}); ok {
		t.Fatal("expected ok=false for an unrecognized kind")
	}
}

func TestDecodeWrongType(t *testing.T) {
	d := NewDecoder(newTestSymbols())
	if _, ok := d.DecodeUserStreamEvent("not-an-event"); ok {
		t.Fatal("expected ok=false for a non-rawUserStreamEvent value")
	}
}
