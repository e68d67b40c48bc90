// Package orderbook implements the in-memory OrderBook and the per-venue
// OrderBookTracker that bootstraps it from a snapshot and applies diffs in
// order, buffering anything that arrives too early. Book-side prices and
// sizes are decimal.Decimal throughout rather than floats, and staleness
// is caught by an update_id/snapshot_uid reconciliation rather than
// hashing the whole book.
package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"connectorcore/pkg/types"
)

// OrderBook is one trading pair's in-memory bid/ask side, owned exclusively
// by its OrderBookTracker and exposed read-only elsewhere.
type OrderBook struct {
	mu sync.RWMutex

	pair types.TradingPair
	bids map[string]types.OrderBookRow // keyed by Price.String()
	asks map[string]types.OrderBookRow

	snapshotUID    int64
	lastUpdateID   int64
	lastTradePrice decimal.Decimal
	updated        time.Time
}

// NewOrderBook creates an empty, not-yet-bootstrapped order book.
func NewOrderBook(pair types.TradingPair) *OrderBook {
	return &OrderBook{
		pair: pair,
		bids: make(map[string]types.OrderBookRow),
		asks: make(map[string]types.OrderBookRow),
	}
}

// Pair returns the trading pair this book tracks.
func (b *OrderBook) Pair() types.TradingPair { return b.pair }

// ApplySnapshot replaces both sides wholesale and sets snapshot_uid and
// last_update_id to the snapshot's update id.
func (b *OrderBook) ApplySnapshot(msg types.BookSnapshotMsg) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = rowsToMap(msg.Bids)
	b.asks = rowsToMap(msg.Asks)
	b.snapshotUID = msg.UpdateID
	b.lastUpdateID = msg.UpdateID
	b.updated = time.Now()
}

func rowsToMap(rows []types.PriceLevel) map[string]types.OrderBookRow {
	m := make(map[string]types.OrderBookRow, len(rows))
	for _, r := range rows {
		if r.Size.IsZero() {
			continue
		}
		m[r.Price.String()] = types.OrderBookRow{Price: r.Price, Size: r.Size}
	}
	return m
}

// ErrDiscontinuity is returned by ApplyDiff when the diff's FirstUpdateID
// doesn't chain from the book's current last_update_id: one or more
// messages were missed between the two, and the book needs a fresh
// snapshot rather than a simple stale diff the caller can drop.
type ErrDiscontinuity struct {
	Expected int64
	Got      int64
}

func (e *ErrDiscontinuity) Error() string {
	return fmt.Sprintf("order book discontinuity: expected update id %d, diff chains from %d", e.Expected, e.Got)
}

// ApplyDiff applies one incremental update: diffs at or below
// last_update_id are dropped silently (already applied or reordered);
// otherwise every level it carries is upserted (or removed, if its size is
// zero) and last_update_id advances. Returns false when the diff was
// dropped as stale — not an error, just a no-op the tracker doesn't need to
// act on. Returns ErrDiscontinuity when msg.FirstUpdateID is set and
// doesn't equal last_update_id: a message was skipped mid-stream and the
// book no longer reflects a contiguous update id sequence.
func (b *OrderBook) ApplyDiff(msg types.BookDiffMsg) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.UpdateID <= b.lastUpdateID {
		return false, nil
	}
	if msg.FirstUpdateID != 0 && msg.FirstUpdateID != b.lastUpdateID {
		return false, &ErrDiscontinuity{Expected: b.lastUpdateID, Got: msg.FirstUpdateID}
	}

	applyLevels(b.bids, msg.Bids)
	applyLevels(b.asks, msg.Asks)

	b.lastUpdateID = msg.UpdateID
	b.updated = time.Now()
	return true, nil
}

func applyLevels(side map[string]types.OrderBookRow, levels []types.PriceLevel) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = types.OrderBookRow{Price: lvl.Price, Size: lvl.Size}
	}
}

// RecordTrade updates last_trade_price from a public trade tape event.
func (b *OrderBook) RecordTrade(msg types.TradeMsg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTradePrice = msg.Price
	b.updated = time.Now()
}

// SnapshotUID returns the update id of the last full snapshot applied.
func (b *OrderBook) SnapshotUID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotUID
}

// LastUpdateID returns the update id of the last diff (or snapshot) applied.
func (b *OrderBook) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// LastTradePrice returns the most recently observed public trade price.
func (b *OrderBook) LastTradePrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTradePrice
}

// BestBid returns the highest bid price/size, if any.
func (b *OrderBook) BestBid() (types.OrderBookRow, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the lowest ask price/size, if any.
func (b *OrderBook) BestAsk() (types.OrderBookRow, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

func bestOf(side map[string]types.OrderBookRow, highest bool) (types.OrderBookRow, bool) {
	if len(side) == 0 {
		return types.OrderBookRow{}, false
	}
	var best types.OrderBookRow
	first := true
	for _, row := range side {
		if first || (highest && row.Price.GreaterThan(best.Price)) || (!highest && row.Price.LessThan(best.Price)) {
			best = row
			first = false
		}
	}
	return best, true
}

// MidPrice returns (bestBid+bestAsk)/2, or false if either side is empty.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Snapshot returns both sides sorted for display or diffing: bids
// descending by price, asks ascending.
func (b *OrderBook) Snapshot() (bids, asks []types.OrderBookRow) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = sortedRows(b.bids, true)
	asks = sortedRows(b.asks, false)
	return bids, asks
}

func sortedRows(side map[string]types.OrderBookRow, descending bool) []types.OrderBookRow {
	out := make([]types.OrderBookRow, 0, len(side))
	for _, r := range side {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// IsStale reports whether the book has gone without an update for maxAge.
func (b *OrderBook) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}
