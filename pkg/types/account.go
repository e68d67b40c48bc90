package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one asset's total and available amount. Available never
// exceeds Total.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// TradingRule is the venue's advertised constraints for a pair. Immutable
// between refreshes (every 60s, see tradingRulesPollInterval in the
// connector package).
type TradingRule struct {
	Pair                TradingPair
	MinOrderSize        decimal.Decimal
	MaxOrderSize        decimal.Decimal
	PriceTick           decimal.Decimal
	SizeStep            decimal.Decimal
	MinNotional         decimal.Decimal
	SupportsMarketOrder bool
}

// PositionSide is LONG, SHORT, or BOTH (hedge-mode venues keep one position
// object per side per pair; one-way-mode venues always report BOTH).
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// Position is a perpetual derivative position, mutated only by
// position-update events (websocket or REST poll).
type Position struct {
	Pair          TradingPair
	Side          PositionSide
	UnrealizedPnL decimal.Decimal
	EntryPrice    decimal.Decimal
	Amount        decimal.Decimal
	Leverage      decimal.Decimal
}

// FundingInfo is the perpetual funding state for one pair, refreshed by a
// periodic REST poll and by a mark-price websocket stream.
type FundingInfo struct {
	Pair              TradingPair
	IndexPrice        decimal.Decimal
	MarkPrice         decimal.Decimal
	NextFundingTime   time.Time
	Rate              decimal.Decimal
}

// FundingPayment is one realized funding cashflow for a pair.
type FundingPayment struct {
	Pair      TradingPair
	Timestamp time.Time
	Rate      decimal.Decimal
	Amount    decimal.Decimal
}

// TradeFeeSchema describes a venue's maker/taker percentage fee. It has no
// flat fee components. Compute does not read FeeAppliesToCostForSells.
type TradeFeeSchema struct {
	MakerPercent             decimal.Decimal
	TakerPercent             decimal.Decimal
	FeeAppliesToCostForSells bool
}

// TradeFee is the computed fee for a single order: PercentRate is the rate
// that was applied (maker or taker), AmountFee is PercentRate * notional in
// the quote asset. Compute leaves FlatFee and Asset unset.
type TradeFee struct {
	PercentRate decimal.Decimal
	AmountFee   decimal.Decimal
	FlatFee     decimal.Decimal
	Asset       string
}

// Compute applies the schema to an order's price/amount: percent fee is
// applied to cost (price*amount) for buys, to returns for sells —
// both reduce to the same notional for a single fill, so the distinction
// only matters when a caller later nets this fee against proceeds.
func (schema TradeFeeSchema) Compute(side Side, isMaker bool, price, amount decimal.Decimal) TradeFee {
	rate := schema.TakerPercent
	if isMaker {
		rate = schema.MakerPercent
	}

	notional := price.Mul(amount)
	return TradeFee{
		PercentRate: rate,
		AmountFee:   rate.Mul(notional),
	}
}
