// Package connector implements the per-venue state machine that places,
// tracks, and cancels orders, reconciles status via websocket and REST
// polling, and maintains balances, positions, trading rules, and funding
// information.
package connector

import (
	"github.com/shopspring/decimal"

	"connectorcore/internal/eventbus"
	"connectorcore/pkg/types"
)

// applyOrderAck transitions order from PENDING_CREATE to OPEN once the
// exchange assigns an exchange_order_id. OrderCreated fires only on ack,
// never on placement intent, so a listener never sees an order that the
// venue went on to reject outright.
func applyOrderAck(order *types.InFlightOrder, exchangeOrderID string, bus *eventbus.PubSub) {
	if order.State != types.PendingCreate {
		return
	}
	order.ExchangeOrderID = exchangeOrderID
	order.State = types.Open

	bus.TriggerEvent(types.EventOrderCreated, types.OrderCreatedPayload{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Pair:            order.Pair,
		Side:            order.Side,
		Type:            order.Type,
		Price:           order.Price,
		Amount:          order.Amount,
	})
}

// applyCreateRejected moves order straight to FAILED when the exchange
// refuses to ack it.
func applyCreateRejected(order *types.InFlightOrder, reason string, bus *eventbus.PubSub) {
	if order.State.IsTerminal() {
		return
	}
	order.State = types.Failed
	bus.TriggerEvent(types.EventOrderFailure, types.OrderFailurePayload{
		ClientOrderID: order.ClientOrderID,
		Reason:        reason,
	})
}

// applyTrade folds one fill into order, deduping by trade id and emitting
// the delta since the previous cumulative fill, never the cumulative
// itself. Returns true if the order is FILLED after the call, including an
// order that was already FILLED before it.
func applyTrade(order *types.InFlightOrder, trade types.TradeUpdate, fee types.TradeFee, bus *eventbus.PubSub) bool {
	if order.State.IsTerminal() {
		return order.State == types.Filled
	}
	if order.HasSeenTrade(trade.TradeID) {
		return false
	}

	delta := trade.CumulativeFilledBase.Sub(order.ExecutedBase)
	if delta.IsNegative() {
		delta = decimal.Zero
	}
	order.ExecutedBase = trade.CumulativeFilledBase
	order.ExecutedQuote = order.ExecutedQuote.Add(trade.FillQuote)

	if !delta.IsZero() {
		bus.TriggerEvent(types.EventOrderFilled, types.OrderFilledPayload{
			ClientOrderID:   order.ClientOrderID,
			ExchangeOrderID: order.ExchangeOrderID,
			TradeID:         trade.TradeID,
			Pair:            order.Pair,
			Side:            order.Side,
			FillPrice:       trade.FillPrice,
			FillBase:        delta,
			FillQuote:       trade.FillQuote,
			TradeFee:        fee,
		})
	}

	if order.ExecutedBase.GreaterThanOrEqual(order.Amount) {
		completeOrder(order, bus)
		return true
	}
	order.State = types.PartiallyFilled
	return false
}

// applyExplicitState folds a venue-reported status (from the REST status
// poll or a user-stream order update) into the state machine. It never regresses a terminal order and
// never double-emits OrderCancelled for an order cancelled twice.
func applyExplicitState(order *types.InFlightOrder, reported types.OrderState, bus *eventbus.PubSub) {
	if order.State.IsTerminal() {
		return
	}
	switch reported {
	case types.Cancelled:
		// A venue can report CANCELLED on an order that was actually fully
		// filled first (the cancel raced the last fill and lost); only
		// land in CANCELLED when amount remains outstanding.
		if order.RemainingAmount().IsZero() {
			completeOrder(order, bus)
			return
		}
		cancelOrder(order, bus)
	case types.Failed:
		order.State = types.Failed
		bus.TriggerEvent(types.EventOrderFailure, types.OrderFailurePayload{
			ClientOrderID: order.ClientOrderID,
		})
	case types.Filled:
		if order.ExecutedBase.LessThan(order.Amount) {
			order.ExecutedBase = order.Amount
		}
		completeOrder(order, bus)
	}
}

// cancelOrder moves order to CANCELLED, idempotently: a second call on an
// already-terminal order is a no-op, so requesting cancel twice yields
// exactly one OrderCancelled.
func cancelOrder(order *types.InFlightOrder, bus *eventbus.PubSub) {
	if order.State.IsTerminal() {
		return
	}
	order.State = types.Cancelled
	bus.TriggerEvent(types.EventOrderCancelled, types.OrderCancelledPayload{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
	})
}

func completeOrder(order *types.InFlightOrder, bus *eventbus.PubSub) {
	if order.State == types.Filled {
		return
	}
	order.State = types.Filled
	bus.TriggerEvent(types.EventOrderCompleted, types.OrderCompletedPayload{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Pair:            order.Pair,
		Side:            order.Side,
		BaseAmount:      order.ExecutedBase,
		QuoteAmount:     order.ExecutedQuote,
	})
}
