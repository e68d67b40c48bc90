package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"connectorcore/internal/eventbus"
	"connectorcore/internal/orderbook"
	"connectorcore/internal/store"
	"connectorcore/internal/userstream"
	"connectorcore/pkg/types"
)

const (
	// shortPollThreshold is how stale last_recv_time must be before tick
	// schedules the faster poll interval.
	shortPollThreshold = 60 * time.Second
	shortPollInterval  = 5 * time.Second
	longPollInterval   = 120 * time.Second

	// statusPollRetryDelay is the sleep-and-retry backoff when any of the
	// four parallel status-poll updates fails; no single failure is fatal.
	statusPollRetryDelay = 500 * time.Millisecond

	tradingRulesPollInterval = time.Minute

	restCallTimeout = 10 * time.Second

	defaultFundingFeePollInterval = 8 * time.Hour
)

// Connector is the public contract for the operations a strategy drives a
// single venue connection through. One BaseConnector per venue implements
// it; perpetual venues additionally satisfy PerpetualConnector.
type Connector interface {
	StartNetwork(ctx context.Context) error
	StopNetwork()
	Ready() bool
	Tick(now time.Time)

	Buy(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType) (string, error)
	Sell(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType) (string, error)
	Cancel(pair types.TradingPair, clientOrderID string) (string, error)
	CancelAll(ctx context.Context, timeout time.Duration) []CancelResult

	GetFee(pair types.TradingPair, side types.Side, typ types.OrderType, amount, price decimal.Decimal, isMaker bool) types.TradeFee
	QuantizeOrderPrice(pair types.TradingPair, price decimal.Decimal) decimal.Decimal
	QuantizeOrderAmount(pair types.TradingPair, amount, price decimal.Decimal) decimal.Decimal

	OrderBook(pair types.TradingPair) *orderbook.OrderBook
	InFlightOrder(clientOrderID string) (*types.InFlightOrder, bool)
	Balance(asset string) (types.Balance, bool)

	ExportSnapshot() store.VenueSnapshot
	ImportSnapshot(snap store.VenueSnapshot)
}

// PerpetualConnector adds the perpetual-only surface a derivative venue
// needs on top of Connector, as a sub-interface rather than a mixin base
// class.
type PerpetualConnector interface {
	Connector
	SetLeverage(ctx context.Context, pair types.TradingPair, leverage int) error
	SetPositionMode(ctx context.Context, hedge bool) error
	FundingInfo(pair types.TradingPair) (types.FundingInfo, bool)
	Position(pair types.TradingPair) (types.Position, bool)
}

// UserStreamEventKind discriminates the raw events a venue's user stream
// decoder can produce.
type UserStreamEventKind int

const (
	UserStreamOrderUpdate UserStreamEventKind = iota
	UserStreamTrade
	UserStreamBalance
	UserStreamPosition
)

// UserStreamEvent is the venue-neutral shape a VenueOps.DecodeUserStreamEvent
// normalizes private-channel messages into, so the base connector never
// parses venue JSON directly.
type UserStreamEvent struct {
	Kind          UserStreamEventKind
	ClientOrderID string // for OrderUpdate / Trade
	OrderUpdate   types.OrderUpdate
	Trade         types.TradeUpdate
	Balance       types.Balance
	Position      types.Position
}

// UserStreamDecoder normalizes one raw private-channel message. Venues that
// implement VenueOps may optionally implement this to feed user-stream
// events into the in-flight order state machine; a venue with no private
// channel simply doesn't wire a userstream.Tracker into the connector.
type UserStreamDecoder interface {
	DecodeUserStreamEvent(raw any) (UserStreamEvent, bool)
}

// BaseConnector implements the shared status-poll skeleton, in-flight book,
// and event emission every venue connector needs: shared behaviour lives in
// helpers on this struct rather than in a base-class hierarchy. Venue
// packages embed it and supply a VenueOps (or PerpetualVenueOps)
// implementation plus the order-book and user-stream data sources.
type BaseConnector struct {
	venueName string
	pairs     []types.TradingPair
	ops       VenueOps
	perpOps   PerpetualVenueOps
	decoder   UserStreamDecoder

	bookTracker *orderbook.Tracker
	userStream  *userstream.Tracker
	bus         *eventbus.PubSub
	logger      *slog.Logger

	fundingFeePollInterval time.Duration

	mu             sync.RWMutex
	inFlightOrders map[string]*types.InFlightOrder
	balances       map[string]types.Balance
	tradingRules   map[types.TradingPair]types.TradingRule
	positions      map[types.TradingPair]types.Position
	fundingInfo    map[types.TradingPair]types.FundingInfo
	lastFundingTS  map[types.TradingPair]time.Time

	tradingRulesLoaded bool
	balancesLoaded     bool
	fundingInfoLoaded  bool

	netMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	running   bool
	wg        sync.WaitGroup

	pollEvent chan struct{}
}

// New creates a BaseConnector for a spot venue. perpOps may be supplied via
// NewPerpetual instead for venues trading perpetual derivatives.
func New(venueName string, pairs []types.TradingPair, ops VenueOps, bookTracker *orderbook.Tracker, userStream *userstream.Tracker, bus *eventbus.PubSub, logger *slog.Logger) *BaseConnector {
	return &BaseConnector{
		venueName:              venueName,
		pairs:                  pairs,
		ops:                    ops,
		bookTracker:            bookTracker,
		userStream:             userStream,
		bus:                    bus,
		logger:                 logger.With("component", "connector", "venue", venueName),
		fundingFeePollInterval: defaultFundingFeePollInterval,
		inFlightOrders:         make(map[string]*types.InFlightOrder),
		balances:               make(map[string]types.Balance),
		tradingRules:           make(map[types.TradingPair]types.TradingRule),
		positions:              make(map[types.TradingPair]types.Position),
		fundingInfo:            make(map[types.TradingPair]types.FundingInfo),
		lastFundingTS:          make(map[types.TradingPair]time.Time),
		pollEvent:              make(chan struct{}, 1),
	}
}

// NewPerpetual creates a BaseConnector bound to a perpetual venue. It also
// satisfies PerpetualConnector. The funding loop polls at the venue's own
// FundingFeePollInterval(); a non-positive value keeps the 8h default.
func NewPerpetual(venueName string, pairs []types.TradingPair, ops PerpetualVenueOps, bookTracker *orderbook.Tracker, userStream *userstream.Tracker, bus *eventbus.PubSub, logger *slog.Logger) *BaseConnector {
	c := New(venueName, pairs, ops, bookTracker, userStream, bus, logger)
	c.perpOps = ops
	if iv := ops.FundingFeePollInterval(); iv > 0 {
		c.fundingFeePollInterval = iv
	}
	return c
}

// WithUserStreamDecoder wires a decoder so private-channel events feed the
// in-flight order state machine and balance/position maps.
func (c *BaseConnector) WithUserStreamDecoder(d UserStreamDecoder) *BaseConnector {
	c.decoder = d
	return c
}

// StartNetwork launches the status-poll, trading-rules-poll, order-book
// tracker, user-stream, and (perpetual) funding loops. Idempotent: an
// already-running connector is stopped first.
func (c *BaseConnector) StartNetwork(ctx context.Context) error {
	c.netMu.Lock()
	defer c.netMu.Unlock()
	if c.running {
		c.stopLocked()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.runCancel = cancel
	c.running = true

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.tradingRulesPollLoop(runCtx) }()

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.statusPollLoop(runCtx) }()

	if c.bookTracker != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.bookTracker.Start(runCtx, c.pairs); err != nil && runCtx.Err() == nil {
				c.logger.Error("order book tracker stopped", "error", err)
			}
		}()
	}

	if c.userStream != nil {
		c.wg.Add(1)
		go func() { defer c.wg.Done(); c.userStreamLoop(runCtx) }()
	}

	if c.perpOps != nil {
		c.wg.Add(1)
		go func() { defer c.wg.Done(); c.fundingPollLoop(runCtx) }()
	}

	return nil
}

// StopNetwork cancels every running task (fire-and-forget, joins none) and
// clears in-memory account state.
func (c *BaseConnector) StopNetwork() {
	c.netMu.Lock()
	defer c.netMu.Unlock()
	c.stopLocked()
}

func (c *BaseConnector) stopLocked() {
	if !c.running {
		return
	}
	c.runCancel()
	c.running = false

	c.mu.Lock()
	c.balances = make(map[string]types.Balance)
	c.positions = make(map[types.TradingPair]types.Position)
	c.balancesLoaded = false
	c.fundingInfoLoaded = false
	c.mu.Unlock()
}

func (c *BaseConnector) currentCtx() context.Context {
	c.netMu.Lock()
	defer c.netMu.Unlock()
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

// Ready reports whether order books, trading rules, balances, and (for
// perpetuals) funding info have all loaded at least once.
func (c *BaseConnector) Ready() bool {
	if c.bookTracker != nil {
		for _, p := range c.pairs {
			book := c.bookTracker.Book(p)
			if book == nil || book.LastUpdateID() == 0 {
				return false
			}
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.tradingRulesLoaded {
		return false
	}
	if !c.balancesLoaded {
		return false
	}
	if c.userStream != nil && c.userStream.LastRecvTime().IsZero() {
		return false
	}
	if c.perpOps != nil && !c.fundingInfoLoaded {
		return false
	}
	return true
}

// Tick nudges an immediate status poll; statusPollLoop itself picks SHORT
// vs LONG interval from user-stream freshness for its own unsolicited
// ticker, so a tick call doesn't need to recompute it.
func (c *BaseConnector) Tick(now time.Time) {
	select {
	case c.pollEvent <- struct{}{}:
	default:
	}
}

func (c *BaseConnector) tradingRule(pair types.TradingPair) (types.TradingRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.tradingRules[pair]
	return rule, ok
}

// OrderBook returns the live book for pair, or nil if untracked.
func (c *BaseConnector) OrderBook(pair types.TradingPair) *orderbook.OrderBook {
	if c.bookTracker == nil {
		return nil
	}
	return c.bookTracker.Book(pair)
}

// InFlightOrder returns one tracked order. The pointer is the connector's
// own live record, not a copy.
func (c *BaseConnector) InFlightOrder(clientOrderID string) (*types.InFlightOrder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.inFlightOrders[clientOrderID]
	return o, ok
}

// Balance returns the current balance for asset.
func (c *BaseConnector) Balance(asset string) (types.Balance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.balances[asset]
	return b, ok
}

// Position returns the current position for pair (perpetual only).
func (c *BaseConnector) Position(pair types.TradingPair) (types.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[pair]
	return p, ok
}

// FundingInfo returns the current funding state for pair (perpetual only).
func (c *BaseConnector) FundingInfo(pair types.TradingPair) (types.FundingInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fi, ok := c.fundingInfo[pair]
	return fi, ok
}

// ExportSnapshot copies the current trading rules, balances, positions, and
// funding bookkeeping into a store.VenueSnapshot for persistence. In-flight
// orders are intentionally omitted (see store.VenueSnapshot doc comment).
func (c *BaseConnector) ExportSnapshot() store.VenueSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := store.VenueSnapshot{
		TradingRules:  make(map[types.TradingPair]types.TradingRule, len(c.tradingRules)),
		Balances:      make(map[string]types.Balance, len(c.balances)),
		Positions:     make(map[types.TradingPair]types.Position, len(c.positions)),
		FundingInfo:   make(map[types.TradingPair]types.FundingInfo, len(c.fundingInfo)),
		LastFundingTS: make(map[types.TradingPair]time.Time, len(c.lastFundingTS)),
	}
	for k, v := range c.tradingRules {
		snap.TradingRules[k] = v
	}
	for k, v := range c.balances {
		snap.Balances[k] = v
	}
	for k, v := range c.positions {
		snap.Positions[k] = v
	}
	for k, v := range c.fundingInfo {
		snap.FundingInfo[k] = v
	}
	for k, v := range c.lastFundingTS {
		snap.LastFundingTS[k] = v
	}
	return snap
}

// ImportSnapshot restores bookkeeping saved by ExportSnapshot. Call before
// StartNetwork so the connector has a warm starting point instead of
// waiting for the first poll cycle to repopulate everything from scratch.
// It never marks trading_rules/balances/funding_info as loaded — Ready()
// still requires a live poll to confirm the venue agrees with the restored
// state.
func (c *BaseConnector) ImportSnapshot(snap store.VenueSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.TradingRules != nil {
		c.tradingRules = snap.TradingRules
	}
	if snap.Balances != nil {
		c.balances = snap.Balances
	}
	if snap.Positions != nil {
		c.positions = snap.Positions
	}
	if snap.FundingInfo != nil {
		c.fundingInfo = snap.FundingInfo
	}
	if snap.LastFundingTS != nil {
		c.lastFundingTS = snap.LastFundingTS
	}
}

// GetFee computes the fee for a hypothetical fill.
func (c *BaseConnector) GetFee(pair types.TradingPair, side types.Side, typ types.OrderType, amount, price decimal.Decimal, isMaker bool) types.TradeFee {
	schema := c.ops.FeeSchema(pair)
	fee := schema.Compute(side, isMaker, price, amount)
	fee.Asset = pair.Quote()
	return fee
}

// QuantizeOrderPrice snaps price down to the pair's tick grid.
func (c *BaseConnector) QuantizeOrderPrice(pair types.TradingPair, price decimal.Decimal) decimal.Decimal {
	rule, ok := c.tradingRule(pair)
	if !ok {
		return price
	}
	return quantizeDown(price, rule.PriceTick)
}

// QuantizeOrderAmount snaps amount down to the pair's size step, returning
// zero if the result falls below min order size or min notional.
func (c *BaseConnector) QuantizeOrderAmount(pair types.TradingPair, amount, price decimal.Decimal) decimal.Decimal {
	rule, ok := c.tradingRule(pair)
	if !ok {
		return amount
	}
	quantized := quantizeDown(amount, rule.SizeStep)
	if quantized.LessThan(rule.MinOrderSize) {
		return decimal.Zero
	}
	if rule.MaxOrderSize.IsPositive() && quantized.GreaterThan(rule.MaxOrderSize) {
		quantized = quantizeDown(rule.MaxOrderSize, rule.SizeStep)
	}
	if rule.MinNotional.IsPositive() && quantized.Mul(price).LessThan(rule.MinNotional) {
		return decimal.Zero
	}
	return quantized
}

// Buy places a buy order, returning its freshly-minted client_order_id
// synchronously; placement itself runs asynchronously.
func (c *BaseConnector) Buy(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType) (string, error) {
	return c.placeOrder(pair, types.Buy, typ, amount, price, types.PositionNil)
}

// Sell places a sell order. See Buy.
func (c *BaseConnector) Sell(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType) (string, error) {
	return c.placeOrder(pair, types.Sell, typ, amount, price, types.PositionNil)
}

// BuyPerpetual places a perpetual buy with an explicit position action.
func (c *BaseConnector) BuyPerpetual(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType, action types.PositionAction) (string, error) {
	return c.placeOrder(pair, types.Buy, typ, amount, price, action)
}

// SellPerpetual places a perpetual sell with an explicit position action.
func (c *BaseConnector) SellPerpetual(pair types.TradingPair, amount, price decimal.Decimal, typ types.OrderType, action types.PositionAction) (string, error) {
	return c.placeOrder(pair, types.Sell, typ, amount, price, action)
}

func (c *BaseConnector) placeOrder(pair types.TradingPair, side types.Side, typ types.OrderType, amount, price decimal.Decimal, action types.PositionAction) (string, error) {
	quantizedPrice := c.QuantizeOrderPrice(pair, price)
	if typ != types.Market && quantizedPrice.IsZero() {
		return "", fmt.Errorf("quantized price for %s is zero, refusing order", pair)
	}
	quantizedAmount := c.QuantizeOrderAmount(pair, amount, quantizedPrice)
	if quantizedAmount.IsZero() {
		return "", fmt.Errorf("order size for %s below minimum, refusing order", pair)
	}

	clientOrderID := types.NewClientOrderID()
	order := types.NewInFlightOrder(clientOrderID, pair, side, typ, quantizedPrice, quantizedAmount)
	order.PositionAction = action

	c.mu.Lock()
	c.inFlightOrders[clientOrderID] = order
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.currentCtx(), restCallTimeout)
		defer cancel()
		exchangeOrderID, err := c.ops.PlaceOrder(ctx, order)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			applyCreateRejected(order, err.Error(), c.bus)
			return
		}
		applyOrderAck(order, exchangeOrderID, c.bus)
	}()

	return clientOrderID, nil
}

// Cancel requests cancellation of clientOrderID, fire-and-forget. An
// unknown or already-terminal order is logged and ignored.
func (c *BaseConnector) Cancel(pair types.TradingPair, clientOrderID string) (string, error) {
	c.mu.RLock()
	order, ok := c.inFlightOrders[clientOrderID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("cancel requested for unknown order", "client_order_id", clientOrderID)
		return clientOrderID, nil
	}
	if order.IsDone() {
		return clientOrderID, nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.currentCtx(), restCallTimeout)
		defer cancel()
		if err := c.ops.CancelOrder(ctx, order); err != nil {
			c.logger.Warn("cancel request failed", "client_order_id", clientOrderID, "error", err)
		}
	}()
	return clientOrderID, nil
}

// CancelAll issues cancels for every non-terminal order in parallel,
// shielded from ctx cancellation until timeout expires. Orders whose
// cancel completed within the window report Success=true; the rest report
// false without implying failure — they may simply not have confirmed yet.
func (c *BaseConnector) CancelAll(ctx context.Context, timeout time.Duration) []CancelResult {
	c.mu.RLock()
	targets := make([]*types.InFlightOrder, 0, len(c.inFlightOrders))
	for _, o := range c.inFlightOrders {
		if !o.IsDone() {
			targets = append(targets, o)
		}
	}
	c.mu.RUnlock()

	results := make([]CancelResult, len(targets))
	for i, o := range targets {
		results[i] = CancelResult{ClientOrderID: o.ClientOrderID}
	}

	shieldCtx, shieldCancel := context.WithTimeout(context.Background(), timeout)
	defer shieldCancel()

	var resMu sync.Mutex
	var wg sync.WaitGroup
	for i, o := range targets {
		wg.Add(1)
		go func(i int, o *types.InFlightOrder) {
			defer wg.Done()
			err := c.ops.CancelOrder(shieldCtx, o)
			if err == nil {
				resMu.Lock()
				results[i].Success = true
				resMu.Unlock()
			}
		}(i, o)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
	}

	resMu.Lock()
	out := make([]CancelResult, len(results))
	copy(out, results)
	resMu.Unlock()
	return out
}

func (c *BaseConnector) tradingRulesPollLoop(ctx context.Context) {
	ticker := time.NewTicker(tradingRulesPollInterval)
	defer ticker.Stop()

	c.refreshTradingRules(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshTradingRules(ctx)
		}
	}
}

func (c *BaseConnector) refreshTradingRules(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, restCallTimeout)
	defer cancel()
	rules, err := c.ops.FetchTradingRules(callCtx)
	if err != nil {
		c.logger.Warn("trading rules refresh failed", "error", err)
		return
	}
	c.mu.Lock()
	c.tradingRules = rules
	c.tradingRulesLoaded = true
	c.mu.Unlock()
}

// statusPollLoop runs the four status updates concurrently each iteration,
// switching between SHORT and LONG interval based on user-stream
// freshness, and on any failure sleeps statusPollRetryDelay and retries
// rather than treating the loop as fatal.
func (c *BaseConnector) statusPollLoop(ctx context.Context) {
	for {
		interval := longPollInterval
		if c.userStream == nil || time.Since(c.userStream.LastRecvTime()) > shortPollThreshold {
			interval = shortPollInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-c.pollEvent:
		case <-time.After(interval):
		}

		if err := c.pollOnce(ctx); err != nil {
			c.logger.Warn("status poll failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(statusPollRetryDelay):
			}
		}
	}
}

func (c *BaseConnector) pollOnce(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, restCallTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 4)

	wg.Add(1)
	go func() { defer wg.Done(); errs[0] = c.updateBalances(callCtx) }()

	wg.Add(1)
	go func() { defer wg.Done(); errs[1] = c.updateOrderStatus(callCtx) }()

	if c.perpOps != nil {
		wg.Add(1)
		go func() { defer wg.Done(); errs[2] = c.updatePositions(callCtx) }()
	}

	wg.Add(1)
	go func() { defer wg.Done(); errs[3] = c.updateTradeHistory(callCtx) }()

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *BaseConnector) updateBalances(ctx context.Context) error {
	balances, err := c.ops.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("update balances: %w", err)
	}
	c.mu.Lock()
	c.balances = balances
	c.balancesLoaded = true
	c.mu.Unlock()
	return nil
}

func (c *BaseConnector) updateOrderStatus(ctx context.Context) error {
	c.mu.RLock()
	pending := make([]*types.InFlightOrder, 0, len(c.inFlightOrders))
	for _, o := range c.inFlightOrders {
		if !o.IsDone() {
			pending = append(pending, o)
		}
	}
	c.mu.RUnlock()

	for _, order := range pending {
		result, err := c.ops.FetchOrderStatus(ctx, order)
		if err != nil {
			return fmt.Errorf("update order status for %s: %w", order.ClientOrderID, err)
		}
		c.mu.Lock()
		if result.ExchangeOrderID != "" && order.State == types.PendingCreate {
			applyOrderAck(order, result.ExchangeOrderID, c.bus)
		}
		for _, t := range result.Trades {
			applyTrade(order, t, c.ops.FeeSchema(order.Pair).Compute(order.Side, false, t.FillPrice, t.FillBase), c.bus)
		}
		if result.State != "" {
			applyExplicitState(order, result.State, c.bus)
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *BaseConnector) updatePositions(ctx context.Context) error {
	positions, err := c.perpOps.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("update positions: %w", err)
	}
	c.mu.Lock()
	c.positions = positions
	c.mu.Unlock()
	return nil
}

func (c *BaseConnector) updateTradeHistory(ctx context.Context) error {
	since := time.Now().Add(-tradingRulesPollInterval)
	records, err := c.ops.FetchTradeHistory(ctx, since)
	if err != nil {
		return fmt.Errorf("update trade history: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		order, ok := c.inFlightOrders[rec.ClientOrderID]
		if !ok || order.IsDone() {
			continue
		}
		fee := c.ops.FeeSchema(order.Pair).Compute(order.Side, false, rec.Trade.FillPrice, rec.Trade.FillBase)
		applyTrade(order, rec.Trade, fee, c.bus)
	}
	return nil
}

// userStreamLoop drains the private channel, decoding each raw event and
// feeding it straight into the in-flight order state machine / balance /
// position maps.
func (c *BaseConnector) userStreamLoop(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.userStream.Start(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("user stream stopped", "error", err)
		}
	}()

	if c.decoder == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-c.userStream.Events():
			if !ok {
				return
			}
			c.applyUserStreamEvent(raw)
		}
	}
}

func (c *BaseConnector) applyUserStreamEvent(raw any) {
	evt, ok := c.decoder.DecodeUserStreamEvent(raw)
	if !ok {
		c.logger.Warn("unrecognized user stream event, skipping", "raw", raw)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Kind {
	case UserStreamOrderUpdate:
		order, ok := c.inFlightOrders[evt.ClientOrderID]
		if !ok {
			return
		}
		if evt.OrderUpdate.ExchangeOrderID != "" && order.State == types.PendingCreate {
			applyOrderAck(order, evt.OrderUpdate.ExchangeOrderID, c.bus)
		}
		if evt.OrderUpdate.NewState != "" {
			applyExplicitState(order, evt.OrderUpdate.NewState, c.bus)
		}
	case UserStreamTrade:
		order, ok := c.inFlightOrders[evt.ClientOrderID]
		if !ok {
			return
		}
		fee := c.ops.FeeSchema(order.Pair).Compute(order.Side, false, evt.Trade.FillPrice, evt.Trade.FillBase)
		applyTrade(order, evt.Trade, fee, c.bus)
	case UserStreamBalance:
		c.balances[evt.Balance.Asset] = evt.Balance
	case UserStreamPosition:
		c.positions[evt.Position.Pair] = evt.Position
	}
}

// fundingPollLoop fetches the latest funding payment per pair on each tick
// and emits FundingPaymentCompleted for a strictly newer, nonzero payment.
// The tick only advances once every pair has succeeded — a partial failure
// re-arms the same tick so the poll repeats after statusPollRetryDelay.
func (c *BaseConnector) fundingPollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.fundingFeePollInterval)
	defer ticker.Stop()

	c.refreshFundingInfo(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for !c.pollFundingPayments(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(statusPollRetryDelay):
				}
			}
			c.refreshFundingInfo(ctx)
		}
	}
}

func (c *BaseConnector) refreshFundingInfo(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, restCallTimeout)
	defer cancel()
	for _, pair := range c.pairs {
		fi, err := c.perpOps.FetchFundingInfo(callCtx, pair)
		if err != nil {
			c.logger.Warn("funding info refresh failed", "pair", pair, "error", err)
			continue
		}
		c.mu.Lock()
		c.fundingInfo[pair] = fi
		c.fundingInfoLoaded = true
		c.mu.Unlock()
	}
}

// pollFundingPayments returns true only if every pair's fetch succeeded.
func (c *BaseConnector) pollFundingPayments(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, restCallTimeout)
	defer cancel()

	allSucceeded := true
	for _, pair := range c.pairs {
		payment, err := c.perpOps.FetchLatestFundingPayment(callCtx, pair)
		if err != nil {
			c.logger.Warn("funding payment poll failed", "pair", pair, "error", err)
			allSucceeded = false
			continue
		}

		c.mu.Lock()
		last := c.lastFundingTS[pair]
		if payment.Timestamp.After(last) && !payment.Amount.IsZero() {
			c.lastFundingTS[pair] = payment.Timestamp
			c.mu.Unlock()
			c.bus.TriggerEvent(types.EventFundingPaymentCompleted, types.FundingPaymentCompletedPayload{
				Pair:      pair,
				Timestamp: payment.Timestamp,
				Rate:      payment.Rate,
				Amount:    payment.Amount,
			})
			continue
		}
		c.mu.Unlock()
	}
	return allSucceeded
}

// SetLeverage sets account leverage for pair (perpetual only).
func (c *BaseConnector) SetLeverage(ctx context.Context, pair types.TradingPair, leverage int) error {
	return c.perpOps.SetLeverage(ctx, pair, leverage)
}

// SetPositionMode switches hedge/one-way mode (perpetual only).
func (c *BaseConnector) SetPositionMode(ctx context.Context, hedge bool) error {
	err := c.perpOps.SetPositionMode(ctx, hedge)
	if err != nil {
		c.bus.TriggerEvent(types.EventPositionModeChangeFailed, types.PositionModeChangePayload{Reason: err.Error()})
		return err
	}
	c.bus.TriggerEvent(types.EventPositionModeChangeSuccess, types.PositionModeChangePayload{})
	return nil
}
