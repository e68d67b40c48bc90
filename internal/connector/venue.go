package connector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"connectorcore/pkg/types"
)

// VenueOps is the per-venue binding the base connector dispatches to for
// every network operation. One interface the base connector drives, plus
// PerpetualVenueOps for the perpetual-only surface, in place of a deep
// inheritance chain (spot base / perpetual mixin / per-venue subclass). A
// venue package (internal/venue/demo and friends) implements this against
// its own REST/WS schema; the base connector never sees venue wire shapes
// directly.
type VenueOps interface {
	// Name identifies the venue for logging and registry lookups.
	Name() string

	// FetchTradingRules returns the current trading-rule catalogue,
	// refreshed by the base connector on its own poll interval.
	FetchTradingRules(ctx context.Context) (map[types.TradingPair]types.TradingRule, error)

	// FetchBalances returns every asset balance the account currently
	// holds; the base connector replaces its whole balance map with this
	// result each poll.
	FetchBalances(ctx context.Context) (map[string]types.Balance, error)

	// PlaceOrder submits order for execution. A non-nil error means the
	// venue rejected the order outright (terminal); a successful return
	// yields the venue-assigned exchange_order_id.
	PlaceOrder(ctx context.Context, order *types.InFlightOrder) (exchangeOrderID string, err error)

	// CancelOrder requests cancellation. This is fire-and-forget: the
	// CANCELLED transition is produced later by the status poll or user
	// stream, not by this call's return.
	CancelOrder(ctx context.Context, order *types.InFlightOrder) error

	// FetchOrderStatus polls one order's current state and any trade
	// fills observed since the last poll.
	FetchOrderStatus(ctx context.Context, order *types.InFlightOrder) (OrderStatusResult, error)

	// FetchTradeHistory returns fills across all orders since the given
	// time, for the trade-history reconciliation pass. Fills are deduped
	// by the base connector against each order's seen-trade-id set.
	FetchTradeHistory(ctx context.Context, since time.Time) ([]TradeRecord, error)

	// FeeSchema returns the fee schedule this venue advertises for pair.
	FeeSchema(pair types.TradingPair) types.TradeFeeSchema
}

// PerpetualVenueOps extends VenueOps with the perpetual-only surface:
// position book, leverage, funding. A venue that only trades spot markets
// implements VenueOps alone.
type PerpetualVenueOps interface {
	VenueOps

	// FetchPositions refreshes the position book.
	FetchPositions(ctx context.Context) (map[types.TradingPair]types.Position, error)

	// FetchFundingInfo refreshes the funding state for pair (index/mark
	// price, next funding time, current rate).
	FetchFundingInfo(ctx context.Context, pair types.TradingPair) (types.FundingInfo, error)

	// FetchLatestFundingPayment returns the most recent realized funding
	// cashflow for pair.
	FetchLatestFundingPayment(ctx context.Context, pair types.TradingPair) (types.FundingPayment, error)

	// SetLeverage sets account leverage for pair.
	SetLeverage(ctx context.Context, pair types.TradingPair, leverage int) error

	// SetPositionMode switches between hedge mode (separate LONG/SHORT
	// positions) and one-way mode (a single BOTH position).
	SetPositionMode(ctx context.Context, hedge bool) error

	// FundingFeePollInterval is the venue's own funding cadence; the base
	// connector's funding loop polls at this interval, or at 8h when it is
	// not positive.
	FundingFeePollInterval() time.Duration
}

// OrderStatusResult is what FetchOrderStatus reports for one order: the
// venue's current view of the order's state plus any new fills observed.
type OrderStatusResult struct {
	ExchangeOrderID string
	State           types.OrderState
	Trades          []types.TradeUpdate
}

// TradeRecord pairs a trade fill with the client_order_id it belongs to,
// for the trade-history reconciliation pass that cuts across all orders.
type TradeRecord struct {
	ClientOrderID string
	Trade         types.TradeUpdate
}

// CancelResult is one entry of cancel_all's result list.
type CancelResult struct {
	ClientOrderID string
	Success       bool
}

// quantizeDown snaps value down to the nearest multiple of step. A zero or
// negative step disables quantization (the rule wasn't loaded or doesn't
// apply) and value is returned unchanged.
func quantizeDown(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() || step.IsNegative() {
		return value
	}
	units := value.Div(step).Floor()
	return units.Mul(step)
}
