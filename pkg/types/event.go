package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent tags the shape of an Event's payload. Each tag's payload
// struct is fixed — see the Event* types below.
type MarketEvent string

const (
	EventOrderCreated               MarketEvent = "OrderCreated"
	EventOrderFilled                MarketEvent = "OrderFilled"
	EventOrderCancelled             MarketEvent = "OrderCancelled"
	EventOrderCompleted             MarketEvent = "OrderCompleted"
	EventOrderFailure               MarketEvent = "OrderFailure"
	EventFundingPaymentCompleted    MarketEvent = "FundingPaymentCompleted"
	EventPositionModeChangeSuccess  MarketEvent = "PositionModeChangeSucceeded"
	EventPositionModeChangeFailed   MarketEvent = "PositionModeChangeFailed"
	EventReceivedAsset              MarketEvent = "ReceivedAsset"
)

// Event is a typed record delivered by the event bus. Payload's concrete
// type is determined by Tag; see the Event* payload structs.
type Event struct {
	Tag       MarketEvent
	Timestamp time.Time
	Payload   any
}

// OrderCreatedPayload is delivered when the exchange acknowledges a new
// order (assigns an exchange_order_id) — never on placement intent.
type OrderCreatedPayload struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            TradingPair
	Side            Side
	Type            OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
}

// OrderFilledPayload always carries the delta since the previous cumulative
// fill, never the cumulative itself.
type OrderFilledPayload struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradeID         string
	Pair            TradingPair
	Side            Side
	FillPrice       decimal.Decimal
	FillBase        decimal.Decimal
	FillQuote       decimal.Decimal
	TradeFee        TradeFee
}

// OrderCancelledPayload is delivered exactly once per client_order_id, even
// if cancel is requested twice.
type OrderCancelledPayload struct {
	ClientOrderID   string
	ExchangeOrderID string
}

// OrderCompletedPayload is the final event for a fully-filled order.
type OrderCompletedPayload struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            TradingPair
	Side            Side
	BaseAmount      decimal.Decimal
	QuoteAmount     decimal.Decimal
}

// OrderFailurePayload marks a rejected or failed order; tracking stops.
type OrderFailurePayload struct {
	ClientOrderID string
	Reason        string
}

// FundingPaymentCompletedPayload is emitted once per new funding timestamp
// with a nonzero amount.
type FundingPaymentCompletedPayload struct {
	Pair      TradingPair
	Timestamp time.Time
	Rate      decimal.Decimal
	Amount    decimal.Decimal
}

// PositionModeChangePayload reports the outcome of a hedge/one-way mode
// change request.
type PositionModeChangePayload struct {
	Pair   TradingPair
	Reason string
}

// ReceivedAssetPayload reports an inbound asset transfer observed via the
// user stream (deposit, funding credit, etc).
type ReceivedAssetPayload struct {
	Asset  string
	Amount decimal.Decimal
}
