package types

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHasSeenTradeDedupes(t *testing.T) {
	t.Parallel()
	o := NewInFlightOrder(NewClientOrderID(), NewTradingPair("BTC", "USDT"), Buy, Limit, decimal.Zero, decimal.Zero)

	if o.HasSeenTrade("T1") {
		t.Fatal("first sighting of T1 should not report seen")
	}
	if !o.HasSeenTrade("T1") {
		t.Fatal("second sighting of T1 should report seen")
	}
}

func TestHasSeenTradeIgnoresEmptyID(t *testing.T) {
	t.Parallel()
	o := NewInFlightOrder(NewClientOrderID(), NewTradingPair("BTC", "USDT"), Buy, Limit, decimal.Zero, decimal.Zero)

	if o.HasSeenTrade("") {
		t.Fatal(`empty trade id should never report seen`)
	}
	if o.SeenTradeCount() != 0 {
		t.Fatalf("empty trade id should not be recorded, got count %d", o.SeenTradeCount())
	}
}

func TestHasSeenTradeBoundedEviction(t *testing.T) {
	t.Parallel()
	o := NewInFlightOrder(NewClientOrderID(), NewTradingPair("BTC", "USDT"), Buy, Limit, decimal.Zero, decimal.Zero)

	for i := 0; i < maxSeenTradeIDs+500; i++ {
		o.HasSeenTrade(fmt.Sprintf("T%d", i))
	}
	if got := o.SeenTradeCount(); got != maxSeenTradeIDs {
		t.Fatalf("dedup set should be capped at %d, got %d", maxSeenTradeIDs, got)
	}

	// The oldest ids were evicted to make room: they no longer dedupe.
	if o.HasSeenTrade("T0") {
		t.Fatal("T0 should have been evicted and re-added as unseen")
	}
	if got := o.SeenTradeCount(); got != maxSeenTradeIDs {
		t.Fatalf("re-adding an evicted id should keep the set at the cap, got %d", got)
	}

	// Recently seen ids must still dedupe correctly despite the eviction.
	recent := fmt.Sprintf("T%d", maxSeenTradeIDs+499)
	if !o.HasSeenTrade(recent) {
		t.Fatalf("most recently seen id %s should still dedupe", recent)
	}
}
