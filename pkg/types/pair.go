// Package types defines the shared vocabulary used across every layer of the
// connector core — trading pairs, order book levels, in-flight orders,
// balances, positions, funding info, rate limits, and the typed event
// payloads the event bus delivers. It depends on nothing internal so any
// layer can import it.
package types

import "strings"

// TradingPair is the system's canonical BASE-QUOTE form, e.g. "BTC-USDT".
type TradingPair string

// NewTradingPair normalizes a base/quote pair into canonical form.
func NewTradingPair(base, quote string) TradingPair {
	return TradingPair(strings.ToUpper(base) + "-" + strings.ToUpper(quote))
}

// Base returns the base asset, or "" if the pair isn't in BASE-QUOTE form.
func (p TradingPair) Base() string {
	base, _, ok := strings.Cut(string(p), "-")
	if !ok {
		return ""
	}
	return base
}

// Quote returns the quote asset, or "" if the pair isn't in BASE-QUOTE form.
func (p TradingPair) Quote() string {
	_, quote, ok := strings.Cut(string(p), "-")
	if !ok {
		return ""
	}
	return quote
}

// Valid reports whether the pair is in the canonical BASE-QUOTE shape.
func (p TradingPair) Valid() bool {
	base, quote, ok := strings.Cut(string(p), "-")
	return ok && base != "" && quote != ""
}

// SymbolMap is a venue's bidirectional mapping between the canonical
// TradingPair form and its native symbol spelling (e.g. "BTCUSDT",
// "BTC_USDT", "BTC/USDT"). The mapping is 1:1 for active markets.
type SymbolMap struct {
	toNative   map[TradingPair]string
	toCanonical map[string]TradingPair
}

// NewSymbolMap creates an empty bidirectional symbol map.
func NewSymbolMap() *SymbolMap {
	return &SymbolMap{
		toNative:    make(map[TradingPair]string),
		toCanonical: make(map[string]TradingPair),
	}
}

// Add registers a pair <-> native symbol association, overwriting any
// previous association for either side.
func (m *SymbolMap) Add(pair TradingPair, native string) {
	m.toNative[pair] = native
	m.toCanonical[native] = pair
}

// Native returns the venue-native symbol for a canonical pair.
func (m *SymbolMap) Native(pair TradingPair) (string, bool) {
	s, ok := m.toNative[pair]
	return s, ok
}

// Canonical returns the canonical pair for a venue-native symbol.
func (m *SymbolMap) Canonical(native string) (TradingPair, bool) {
	p, ok := m.toCanonical[native]
	return p, ok
}

// Pairs returns every pair currently registered, in no particular order.
func (m *SymbolMap) Pairs() []TradingPair {
	out := make([]TradingPair, 0, len(m.toNative))
	for p := range m.toNative {
		out = append(out, p)
	}
	return out
}
