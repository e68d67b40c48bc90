// Package store provides crash-safe persistence of per-venue connector
// state using JSON files.
//
// Each venue's bookkeeping is stored as a separate file:
// venue_<name>.json. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save. The connectord daemon loads each venue's snapshot into its
// connector before start_network, restoring trading rules, balances,
// positions, and funding bookkeeping without waiting for the next poll,
// and saves a fresh snapshot before stop_network at shutdown. The
// connector itself does not call this package.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"connectorcore/pkg/types"
)

// VenueSnapshot is the subset of a connector's in-memory state worth
// persisting across restarts. In-flight orders are not included, and the
// status poll only queries orders the connector already tracks in memory,
// so orders placed before a restart are not tracked after it.
type VenueSnapshot struct {
	TradingRules  map[types.TradingPair]types.TradingRule
	Balances      map[string]types.Balance
	Positions     map[types.TradingPair]types.Position
	FundingInfo   map[types.TradingPair]types.FundingInfo
	LastFundingTS map[types.TradingPair]time.Time
}

// Store persists venue snapshots to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveVenueSnapshot atomically persists venue's current bookkeeping. It
// writes to a .tmp file first, then renames over the target so the file is
// never left in a partial state.
func (s *Store) SaveVenueSnapshot(venue string, snap VenueSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal venue snapshot: %w", err)
	}

	path := s.venuePath(venue)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write venue snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadVenueSnapshot restores venue's bookkeeping from disk. Returns nil,
// nil if no saved snapshot exists (first run for this venue).
func (s *Store) LoadVenueSnapshot(venue string) (*VenueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.venuePath(venue))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read venue snapshot: %w", err)
	}

	var snap VenueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal venue snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) venuePath(venue string) string {
	return filepath.Join(s.dir, "venue_"+venue+".json")
}
