package types

import "github.com/shopspring/decimal"

// PriceLevel is one bid or ask level: a price and the aggregate size resting
// there. A zero Size means "remove this level" when applied as a diff.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookRow is a PriceLevel carrying the venue's entry id, used where a
// venue identifies individual book entries rather than aggregated levels.
type OrderBookRow struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	EntryID string
}

// BookSnapshotMsg is a full order book snapshot, either from a REST fetch
// or a websocket "snapshot" event. UpdateID becomes the tracker's
// snapshot_uid once applied.
type BookSnapshotMsg struct {
	Pair     TradingPair
	Bids     []PriceLevel
	Asks     []PriceLevel
	UpdateID int64
}

// BookDiffMsg is an incremental book update. UpdateID must be strictly
// greater than the book's last_update_id to be applied. FirstUpdateID, when
// the venue's wire format supplies a current/previous update id pair, is
// the update id this diff chains from; it must equal the book's current
// last_update_id or a message was missed between the two. A venue that
// doesn't supply a previous-id leaves this zero, which skips the check.
type BookDiffMsg struct {
	Pair          TradingPair
	Bids          []PriceLevel
	Asks          []PriceLevel
	UpdateID      int64
	FirstUpdateID int64
}

// TradeMsg is a public trade tick, used to update OrderBook.LastTradePrice.
type TradeMsg struct {
	Pair      TradingPair
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	Timestamp int64 // milliseconds since epoch
}
