package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"connectorcore/pkg/types"
)

func TestSaveAndLoadVenueSnapshotRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pair := types.NewTradingPair("BTC", "USDT")
	snap := VenueSnapshot{
		TradingRules: map[types.TradingPair]types.TradingRule{
			pair: {Pair: pair, MinOrderSize: decimal.RequireFromString("0.01")},
		},
		Balances: map[string]types.Balance{
			"USDT": {Asset: "USDT", Total: decimal.RequireFromString("1000"), Available: decimal.RequireFromString("900")},
		},
		LastFundingTS: map[types.TradingPair]time.Time{pair: time.Unix(1700000000, 0).UTC()},
	}

	if err := s.SaveVenueSnapshot("demo", snap); err != nil {
		t.Fatalf("SaveVenueSnapshot: %v", err)
	}

	loaded, err := s.LoadVenueSnapshot("demo")
	if err != nil {
		t.Fatalf("LoadVenueSnapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadVenueSnapshot returned nil")
	}
	if !loaded.Balances["USDT"].Total.Equal(snap.Balances["USDT"].Total) {
		t.Errorf("balance mismatch: %#v", loaded.Balances["USDT"])
	}
	if !loaded.TradingRules[pair].MinOrderSize.Equal(snap.TradingRules[pair].MinOrderSize) {
		t.Error("trading rule mismatch after round trip")
	}
}

func TestLoadVenueSnapshotMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadVenueSnapshot("nonexistent")
	if err != nil {
		t.Fatalf("LoadVenueSnapshot: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", loaded)
	}
}

func TestSaveVenueSnapshotOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap1 := VenueSnapshot{Balances: map[string]types.Balance{"USDT": {Asset: "USDT", Total: decimal.RequireFromString("10")}}}
	snap2 := VenueSnapshot{Balances: map[string]types.Balance{"USDT": {Asset: "USDT", Total: decimal.RequireFromString("20")}}}

	_ = s.SaveVenueSnapshot("demo", snap1)
	_ = s.SaveVenueSnapshot("demo", snap2)

	loaded, err := s.LoadVenueSnapshot("demo")
	if err != nil {
		t.Fatalf("LoadVenueSnapshot: %v", err)
	}
	if !loaded.Balances["USDT"].Total.Equal(decimal.RequireFromString("20")) {
		t.Errorf("Total = %v, want 20 (latest save)", loaded.Balances["USDT"].Total)
	}
}
