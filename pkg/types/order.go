package types

import (
	"container/list"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxSeenTradeIDs bounds the per-order trade-id dedup set. A partially
// filled order can accumulate many small fills over a long life; without a
// cap the set would grow for as long as the order stays open.
const maxSeenTradeIDs = 1000

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates the order execution styles the connector supports.
type OrderType string

const (
	Limit       OrderType = "LIMIT"
	LimitMaker  OrderType = "LIMIT_MAKER"
	Market      OrderType = "MARKET"
)

// PositionAction indicates whether a perpetual order opens or closes a
// position. NIL means the venue is spot, or the action doesn't apply.
type PositionAction string

const (
	PositionOpen  PositionAction = "OPEN"
	PositionClose PositionAction = "CLOSE"
	PositionNil   PositionAction = "NIL"
)

// OrderState is a node in the in-flight order lifecycle. Terminal states
// are Filled, Cancelled, Failed.
type OrderState string

const (
	PendingCreate   OrderState = "PENDING_CREATE"
	Open            OrderState = "OPEN"
	PartiallyFilled OrderState = "PARTIALLY_FILLED"
	Filled          OrderState = "FILLED"
	Cancelled       OrderState = "CANCELLED"
	Failed          OrderState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderState) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Failed
}

// ClientOrderIDPrefix is prepended to every generated client order id so
// fills can be traced back to this connector core in venue order history.
const ClientOrderIDPrefix = "CC-"

// ClientOrderIDMaxLen is the longest client_order_id any supported venue
// tolerates; venue implementations should truncate their own suffix data
// to fit under this when they embed extra routing information.
const ClientOrderIDMaxLen = 36

// NewClientOrderID mints a fresh client_order_id with the stable prefix
// every InFlightOrder must carry.
func NewClientOrderID() string {
	id := ClientOrderIDPrefix + uuid.NewString()
	if len(id) > ClientOrderIDMaxLen {
		id = id[:ClientOrderIDMaxLen]
	}
	return id
}

// InFlightOrder tracks one order this connector has placed, from the moment
// it enters PENDING_CREATE until it reaches a terminal state. Mutation is
// exclusively owned by the connector's in-flight order state machine
// (internal/connector); other packages must treat a returned InFlightOrder
// as a snapshot, never a live handle.
type InFlightOrder struct {
	ClientOrderID   string
	ExchangeOrderID string // "" until the exchange acks the order
	Pair            TradingPair
	Side            Side
	Type            OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	ExecutedBase    decimal.Decimal
	ExecutedQuote   decimal.Decimal
	State           OrderState
	CreationTime    time.Time

	// Perpetual-only fields; zero value for spot orders.
	Leverage       int
	PositionAction PositionAction

	// seenTradeIDs dedupes fills arriving via both the websocket and the
	// REST status poll. Bounded to maxSeenTradeIDs, evicting the oldest
	// trade id first; use HasSeenTrade rather than touching this directly.
	seenTradeIDs   map[string]*list.Element
	seenTradeOrder *list.List
}

// NewInFlightOrder creates an order in PENDING_CREATE: the order must be
// entered into the in-flight book before the network call that places it.
func NewInFlightOrder(clientOrderID string, pair TradingPair, side Side, typ OrderType, price, amount decimal.Decimal) *InFlightOrder {
	return &InFlightOrder{
		ClientOrderID:  clientOrderID,
		Pair:           pair,
		Side:           side,
		Type:           typ,
		Price:          price,
		Amount:         amount,
		ExecutedBase:   decimal.Zero,
		ExecutedQuote:  decimal.Zero,
		State:          PendingCreate,
		CreationTime:   time.Now(),
		PositionAction: PositionNil,
		seenTradeIDs:   make(map[string]*list.Element),
		seenTradeOrder: list.New(),
	}
}

// IsDone reports whether the order has reached a terminal state.
func (o *InFlightOrder) IsDone() bool {
	return o.State.IsTerminal()
}

// HasSeenTrade reports whether a trade id has already been applied to this
// order, and records it if not. Callers use this to make fill delivery
// exactly-once across the status-poll and user-stream paths. The dedup set
// is bounded to maxSeenTradeIDs, evicting the oldest id once full — a fill
// old enough to fall out of the window is assumed to have already been
// reconciled by the time the set wraps around.
func (o *InFlightOrder) HasSeenTrade(tradeID string) bool {
	if tradeID == "" {
		return false
	}
	if o.seenTradeIDs == nil {
		o.seenTradeIDs = make(map[string]*list.Element)
		o.seenTradeOrder = list.New()
	}
	if _, ok := o.seenTradeIDs[tradeID]; ok {
		return true
	}

	if o.seenTradeOrder.Len() >= maxSeenTradeIDs {
		oldest := o.seenTradeOrder.Front()
		if oldest != nil {
			o.seenTradeOrder.Remove(oldest)
			delete(o.seenTradeIDs, oldest.Value.(string))
		}
	}
	o.seenTradeIDs[tradeID] = o.seenTradeOrder.PushBack(tradeID)
	return false
}

// SeenTradeCount returns the number of trade ids currently held in the
// dedup set, capped at maxSeenTradeIDs. Exposed for tests.
func (o *InFlightOrder) SeenTradeCount() int {
	if o.seenTradeOrder == nil {
		return 0
	}
	return o.seenTradeOrder.Len()
}

// RemainingAmount is Amount - ExecutedBase, floored at zero.
func (o *InFlightOrder) RemainingAmount() decimal.Decimal {
	rem := o.Amount.Sub(o.ExecutedBase)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

func (o *InFlightOrder) String() string {
	return fmt.Sprintf("InFlightOrder{%s %s %s %s@%s state=%s}",
		o.ClientOrderID, o.Side, o.Pair, o.Amount, o.Price, o.State)
}

// TradeUpdate is a single fill applied to an in-flight order. TradeID is
// used for exactly-once dedup. CumulativeFilledBase is the venue's
// reported *cumulative* filled amount, not the delta — the in-flight
// order state machine derives the delta itself.
type TradeUpdate struct {
	TradeID              string
	CumulativeFilledBase decimal.Decimal
	FillPrice            decimal.Decimal
	FillBase             decimal.Decimal
	FillQuote            decimal.Decimal
	FillTimestamp        time.Time
}

// OrderUpdate carries a status change observed via REST poll or websocket.
// ExchangeOrderID is required once known; NewState is the venue's reported
// state, which the in-flight order state machine reconciles against the
// allowed transition graph rather than trusting blindly.
type OrderUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	NewState        OrderState
	UpdateTimestamp time.Time
}
