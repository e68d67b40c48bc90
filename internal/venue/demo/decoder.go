package demo

import (
	"time"

	"connectorcore/internal/connector"
	"connectorcore/pkg/types"
)

// rawUserStreamEvent is the wire shape of every frame the demo venue's
// private channel sends, discriminated by Kind.
type rawUserStreamEvent struct {
	Kind          string `json:"kind"`
	ClientOrderID string `json:"clientOrderId"`

	// order update fields
	ExchangeOrderID string `json:"orderId"`
	Status          string `json:"status"`

	// trade fields
	TradeID          string `json:"tradeId"`
	Price            string `json:"price"`
	Qty              string `json:"qty"`
	Quote            string `json:"quote"`
	CumulativeFilled string `json:"cumulativeFilledQty"`

	// balance fields
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Available string `json:"available"`

	// position fields
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	UnrealizedPnL string `json:"unrealizedPnl"`
	EntryPrice    string `json:"entryPrice"`
	Leverage      string `json:"leverage"`

	Timestamp int64 `json:"timestamp"`
}

// Decoder implements connector.UserStreamDecoder for rawUserStreamEvent
// frames produced by UserStreamSource.
type Decoder struct {
	symbols *types.SymbolMap
}

// NewDecoder creates a Decoder using symbols to resolve native symbols
// carried in position events back to canonical trading pairs.
func NewDecoder(symbols *types.SymbolMap) *Decoder {
	return &Decoder{symbols: symbols}
}

var _ connector.UserStreamDecoder = (*Decoder)(nil)

// DecodeUserStreamEvent normalizes one raw private-channel frame.
func (d *Decoder) DecodeUserStreamEvent(raw any) (connector.UserStreamEvent, bool) {
	evt, ok := raw.(rawUserStreamEvent)
	if !ok {
		return connector.UserStreamEvent{}, false
	}

	switch evt.Kind {
	case "order":
		return connector.UserStreamEvent{
			Kind:          connector.UserStreamOrderUpdate,
			ClientOrderID: evt.ClientOrderID,
			OrderUpdate: types.OrderUpdate{
				ClientOrderID:   evt.ClientOrderID,
				ExchangeOrderID: evt.ExchangeOrderID,
				NewState:        venueStateToOrderState[evt.Status],
				UpdateTimestamp: time.UnixMilli(evt.Timestamp),
			},
		}, true
	case "trade":
		return connector.UserStreamEvent{
			Kind:          connector.UserStreamTrade,
			ClientOrderID: evt.ClientOrderID,
			Trade: types.TradeUpdate{
				TradeID:              evt.TradeID,
				CumulativeFilledBase: mustDecimal(evt.CumulativeFilled),
				FillPrice:            mustDecimal(evt.Price),
				FillBase:             mustDecimal(evt.Qty),
				FillQuote:            mustDecimal(evt.Quote),
				FillTimestamp:        time.UnixMilli(evt.Timestamp),
			},
		}, true
	case "balance":
		return connector.UserStreamEvent{
			Kind: connector.UserStreamBalance,
			Balance: types.Balance{
				Asset:     evt.Asset,
				Total:     mustDecimal(evt.Total),
				Available: mustDecimal(evt.Available),
			},
		}, true
	case "position":
		pair, ok := d.symbols.Canonical(evt.Symbol)
		if !ok {
			return connector.UserStreamEvent{}, false
		}
		return connector.UserStreamEvent{
			Kind: connector.UserStreamPosition,
			Position: types.Position{
				Pair:          pair,
				Side:          types.PositionSide(evt.Side),
				UnrealizedPnL: mustDecimal(evt.UnrealizedPnL),
				EntryPrice:    mustDecimal(evt.EntryPrice),
				Amount:        mustDecimal(evt.Qty),
				Leverage:      mustDecimal(evt.Leverage),
			},
		}, true
	default:
		return connector.UserStreamEvent{}, false
	}
}
