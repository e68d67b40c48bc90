// Package demo implements one concrete venue binding: a fictitious
// perpetual/spot exchange reachable over a resty-backed REST API and a
// gorilla/websocket public+private feed, wired together through
// wsassistant and auth exactly the way a real venue package would be.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"connectorcore/internal/connector"
	"connectorcore/internal/wsassistant"
	"connectorcore/pkg/types"
)

// Venue binds the demo exchange's REST surface to connector.PerpetualVenueOps.
// Connect uses it for both perpetual and spot connectors (a spot connector
// calls only the VenueOps half); FeeSchema is uniform across pairs for this
// venue.
type Venue struct {
	name                   string
	rest                   *wsassistant.RESTAssistant
	symbols                *types.SymbolMap
	feeSchema              types.TradeFeeSchema
	fundingFeePollInterval time.Duration
}

// New creates a Venue bound to rest, with symbols mapping every traded pair
// to its native wire spelling (e.g. "BTC-USDT" -> "BTCUSDT").
func New(name string, rest *wsassistant.RESTAssistant, symbols *types.SymbolMap, feeSchema types.TradeFeeSchema, fundingFeePollInterval time.Duration) *Venue {
	return &Venue{
		name:                   name,
		rest:                   rest,
		symbols:                symbols,
		feeSchema:              feeSchema,
		fundingFeePollInterval: fundingFeePollInterval,
	}
}

var _ connector.PerpetualVenueOps = (*Venue)(nil)

func (v *Venue) Name() string { return v.name }

func (v *Venue) FeeSchema(types.TradingPair) types.TradeFeeSchema { return v.feeSchema }

func (v *Venue) FundingFeePollInterval() time.Duration { return v.fundingFeePollInterval }

func (v *Venue) nativeSymbol(pair types.TradingPair) (string, error) {
	sym, ok := v.symbols.Native(pair)
	if !ok {
		return "", fmt.Errorf("no native symbol mapping for pair %s", pair)
	}
	return sym, nil
}

type instrumentResp struct {
	Symbol       string `json:"symbol"`
	MinOrderQty  string `json:"minOrderQty"`
	MaxOrderQty  string `json:"maxOrderQty"`
	PriceTick    string `json:"priceTick"`
	QtyStep      string `json:"qtyStep"`
	MinNotional  string `json:"minNotional"`
}

type instrumentsResp struct {
	Instruments []instrumentResp `json:"instruments"`
}

// FetchTradingRules retrieves the venue's advertised constraints for every
// symbol it knows about.
func (v *Venue) FetchTradingRules(ctx context.Context) (map[types.TradingPair]types.TradingRule, error) {
	var resp instrumentsResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:  "GET",
		Path:    "/v1/instruments",
		LimitID: "instruments",
	}, &resp); err != nil {
		return nil, fmt.Errorf("fetch trading rules: %w", err)
	}

	rules := make(map[types.TradingPair]types.TradingRule, len(resp.Instruments))
	for _, inst := range resp.Instruments {
		pair, ok := v.symbols.Canonical(inst.Symbol)
		if !ok {
			continue
		}
		rules[pair] = types.TradingRule{
			Pair:                pair,
			MinOrderSize:        mustDecimal(inst.MinOrderQty),
			MaxOrderSize:        mustDecimal(inst.MaxOrderQty),
			PriceTick:           mustDecimal(inst.PriceTick),
			SizeStep:            mustDecimal(inst.QtyStep),
			MinNotional:         mustDecimal(inst.MinNotional),
			SupportsMarketOrder: true,
		}
	}
	return rules, nil
}

type balanceEntry struct {
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Available string `json:"available"`
}

type balancesResp struct {
	Balances []balanceEntry `json:"balances"`
}

// FetchBalances retrieves the account's asset balances.
func (v *Venue) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	var resp balancesResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "GET",
		Path:          "/v1/account/balances",
		Authenticated: true,
		LimitID:       "account",
	}, &resp); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	balances := make(map[string]types.Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		balances[b.Asset] = types.Balance{
			Asset:     b.Asset,
			Total:     mustDecimal(b.Total),
			Available: mustDecimal(b.Available),
		}
	}
	return balances, nil
}

type placeOrderReq struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Qty           string `json:"qty"`
}

type placeOrderResp struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder submits order to the venue, returning its assigned
// exchange_order_id.
func (v *Venue) PlaceOrder(ctx context.Context, order *types.InFlightOrder) (string, error) {
	symbol, err := v.nativeSymbol(order.Pair)
	if err != nil {
		return "", err
	}

	req := placeOrderReq{
		ClientOrderID: order.ClientOrderID,
		Symbol:        symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Qty:           order.Amount.String(),
	}
	if order.Type != types.Market {
		req.Price = order.Price.String()
	}

	var resp placeOrderResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "POST",
		Path:          "/v1/orders",
		Body:          req,
		Authenticated: true,
		LimitID:       "orders",
	}, &resp); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("place order: venue returned no order id")
	}
	return resp.OrderID, nil
}

// CancelOrder requests cancellation of order. Idempotent on the venue's
// side: cancelling an already-terminal order returns no error.
func (v *Venue) CancelOrder(ctx context.Context, order *types.InFlightOrder) error {
	symbol, err := v.nativeSymbol(order.Pair)
	if err != nil {
		return err
	}
	return v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "DELETE",
		Path:          "/v1/orders",
		Query:         map[string]string{"symbol": symbol, "clientOrderId": order.ClientOrderID},
		Authenticated: true,
		LimitID:       "orders",
	}, nil)
}

type tradeEntry struct {
	TradeID   string `json:"tradeId"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Quote     string `json:"quote"`
	Timestamp int64  `json:"timestamp"`
}

type orderStatusResp struct {
	OrderID          string       `json:"orderId"`
	Status           string       `json:"status"`
	CumulativeFilled string       `json:"cumulativeFilledQty"`
	Trades           []tradeEntry `json:"trades"`
}

var venueStateToOrderState = map[string]types.OrderState{
	"NEW":              types.Open,
	"PARTIALLY_FILLED": types.PartiallyFilled,
	"FILLED":           types.Filled,
	"CANCELLED":        types.Cancelled,
	"REJECTED":         types.Failed,
}

// FetchOrderStatus polls order's current state and any trades filled
// against it.
func (v *Venue) FetchOrderStatus(ctx context.Context, order *types.InFlightOrder) (connector.OrderStatusResult, error) {
	symbol, err := v.nativeSymbol(order.Pair)
	if err != nil {
		return connector.OrderStatusResult{}, err
	}

	var resp orderStatusResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "GET",
		Path:          "/v1/orders",
		Query:         map[string]string{"symbol": symbol, "clientOrderId": order.ClientOrderID},
		Authenticated: true,
		LimitID:       "orders",
	}, &resp); err != nil {
		return connector.OrderStatusResult{}, fmt.Errorf("fetch order status: %w", err)
	}

	result := connector.OrderStatusResult{
		ExchangeOrderID: resp.OrderID,
		State:           venueStateToOrderState[resp.Status],
	}
	for _, t := range resp.Trades {
		result.Trades = append(result.Trades, tradeEntryToUpdate(t, mustDecimal(resp.CumulativeFilled)))
	}
	return result, nil
}

func tradeEntryToUpdate(t tradeEntry, cumulative decimal.Decimal) types.TradeUpdate {
	return types.TradeUpdate{
		TradeID:              t.TradeID,
		CumulativeFilledBase: cumulative,
		FillPrice:            mustDecimal(t.Price),
		FillBase:             mustDecimal(t.Qty),
		FillQuote:            mustDecimal(t.Quote),
		FillTimestamp:        time.UnixMilli(t.Timestamp),
	}
}

type tradeHistoryEntry struct {
	ClientOrderID    string `json:"clientOrderId"`
	TradeID          string `json:"tradeId"`
	Price            string `json:"price"`
	Qty              string `json:"qty"`
	Quote            string `json:"quote"`
	CumulativeFilled string `json:"cumulativeFilledQty"`
	Timestamp        int64  `json:"timestamp"`
}

type tradeHistoryResp struct {
	Trades []tradeHistoryEntry `json:"trades"`
}

// FetchTradeHistory retrieves every fill recorded since since, across all
// orders; the base connector uses it as the cross-path dedup source
// against fills already seen via the status poll or user stream.
func (v *Venue) FetchTradeHistory(ctx context.Context, since time.Time) ([]connector.TradeRecord, error) {
	var resp tradeHistoryResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "GET",
		Path:          "/v1/account/trades",
		Query:         map[string]string{"since": fmt.Sprintf("%d", since.UnixMilli())},
		Authenticated: true,
		LimitID:       "account",
	}, &resp); err != nil {
		return nil, fmt.Errorf("fetch trade history: %w", err)
	}

	records := make([]connector.TradeRecord, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		records = append(records, connector.TradeRecord{
			ClientOrderID: t.ClientOrderID,
			Trade: types.TradeUpdate{
				TradeID:              t.TradeID,
				CumulativeFilledBase: mustDecimal(t.CumulativeFilled),
				FillPrice:            mustDecimal(t.Price),
				FillBase:             mustDecimal(t.Qty),
				FillQuote:            mustDecimal(t.Quote),
				FillTimestamp:        time.UnixMilli(t.Timestamp),
			},
		})
	}
	return records, nil
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	UnrealizedPnL string `json:"unrealizedPnl"`
	EntryPrice    string `json:"entryPrice"`
	Qty           string `json:"qty"`
	Leverage      string `json:"leverage"`
}

type positionsResp struct {
	Positions []positionEntry `json:"positions"`
}

// FetchPositions retrieves every open perpetual position.
func (v *Venue) FetchPositions(ctx context.Context) (map[types.TradingPair]types.Position, error) {
	var resp positionsResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "GET",
		Path:          "/v1/account/positions",
		Authenticated: true,
		LimitID:       "account",
	}, &resp); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	positions := make(map[types.TradingPair]types.Position, len(resp.Positions))
	for _, p := range resp.Positions {
		pair, ok := v.symbols.Canonical(p.Symbol)
		if !ok {
			continue
		}
		positions[pair] = types.Position{
			Pair:          pair,
			Side:          types.PositionSide(p.Side),
			UnrealizedPnL: mustDecimal(p.UnrealizedPnL),
			EntryPrice:    mustDecimal(p.EntryPrice),
			Amount:        mustDecimal(p.Qty),
			Leverage:      mustDecimal(p.Leverage),
		}
	}
	return positions, nil
}

type fundingInfoResp struct {
	IndexPrice      string `json:"indexPrice"`
	MarkPrice       string `json:"markPrice"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Rate            string `json:"rate"`
}

// FetchFundingInfo retrieves pair's current mark/index price and funding
// rate.
func (v *Venue) FetchFundingInfo(ctx context.Context, pair types.TradingPair) (types.FundingInfo, error) {
	symbol, err := v.nativeSymbol(pair)
	if err != nil {
		return types.FundingInfo{}, err
	}

	var resp fundingInfoResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:  "GET",
		Path:    "/v1/funding/info",
		Query:   map[string]string{"symbol": symbol},
		LimitID: "funding",
	}, &resp); err != nil {
		return types.FundingInfo{}, fmt.Errorf("fetch funding info for %s: %w", pair, err)
	}

	return types.FundingInfo{
		Pair:            pair,
		IndexPrice:      mustDecimal(resp.IndexPrice),
		MarkPrice:       mustDecimal(resp.MarkPrice),
		NextFundingTime: time.UnixMilli(resp.NextFundingTime),
		Rate:            mustDecimal(resp.Rate),
	}, nil
}

type fundingPaymentResp struct {
	Timestamp int64  `json:"timestamp"`
	Rate      string `json:"rate"`
	Amount    string `json:"amount"`
}

// FetchLatestFundingPayment retrieves the most recent realized funding
// cashflow for pair, zero-valued if none has occurred yet.
func (v *Venue) FetchLatestFundingPayment(ctx context.Context, pair types.TradingPair) (types.FundingPayment, error) {
	symbol, err := v.nativeSymbol(pair)
	if err != nil {
		return types.FundingPayment{}, err
	}

	var resp fundingPaymentResp
	if err := v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "GET",
		Path:          "/v1/account/funding/latest",
		Query:         map[string]string{"symbol": symbol},
		Authenticated: true,
		LimitID:       "funding",
	}, &resp); err != nil {
		return types.FundingPayment{}, fmt.Errorf("fetch latest funding payment for %s: %w", pair, err)
	}

	if resp.Timestamp == 0 {
		return types.FundingPayment{Pair: pair}, nil
	}
	return types.FundingPayment{
		Pair:      pair,
		Timestamp: time.UnixMilli(resp.Timestamp),
		Rate:      mustDecimal(resp.Rate),
		Amount:    mustDecimal(resp.Amount),
	}, nil
}

// SetLeverage sets account leverage for pair.
func (v *Venue) SetLeverage(ctx context.Context, pair types.TradingPair, leverage int) error {
	symbol, err := v.nativeSymbol(pair)
	if err != nil {
		return err
	}
	return v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "POST",
		Path:          "/v1/account/leverage",
		Body:          map[string]any{"symbol": symbol, "leverage": leverage},
		Authenticated: true,
		LimitID:       "account",
	}, nil)
}

// SetPositionMode switches hedge/one-way mode account-wide.
func (v *Venue) SetPositionMode(ctx context.Context, hedge bool) error {
	return v.rest.Call(ctx, wsassistant.CallParams{
		Method:        "POST",
		Path:          "/v1/account/position-mode",
		Body:          map[string]any{"hedge": hedge},
		Authenticated: true,
		LimitID:       "account",
	}, nil)
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
