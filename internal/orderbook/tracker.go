package orderbook

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"connectorcore/pkg/types"
)

// defaultReplayBufferSize bounds the per-pair deque of diffs received before
// that pair's first snapshot.
const defaultReplayBufferSize = 1000

// DataSource is the per-venue contract an OrderBookTracker drives: fetch an
// initial snapshot per pair, and stream normalized diff/trade messages for
// every tracked pair over a single subscription.
type DataSource interface {
	// FetchSnapshot retrieves one pair's current book over REST.
	FetchSnapshot(ctx context.Context, pair types.TradingPair) (types.BookSnapshotMsg, error)
	// Subscribe starts streaming diffs and trades for pairs; messages arrive
	// on the returned channels until ctx is cancelled.
	Subscribe(ctx context.Context, pairs []types.TradingPair) (diffs <-chan types.BookDiffMsg, trades <-chan types.TradeMsg, err error)
}

type pairState struct {
	book        *OrderBook
	replay      *list.List // buffered types.BookDiffMsg received pre-snapshot
	bootstrapped bool
}

// Tracker bootstraps one OrderBook per tracked pair from a REST snapshot,
// drains any diffs buffered before that snapshot arrived, and then applies
// the live diff stream in order — guarding every application by
// snapshot_uid/last_update_id.
type Tracker struct {
	source DataSource
	logger *slog.Logger

	reSnapshotInterval time.Duration
	replayBufferSize   int

	mu     sync.RWMutex
	states map[types.TradingPair]*pairState
}

// NewTracker creates a Tracker. reSnapshotInterval is how often (default
// hourly) a fresh snapshot is merged in to correct drift.
func NewTracker(source DataSource, reSnapshotInterval time.Duration, logger *slog.Logger) *Tracker {
	if reSnapshotInterval <= 0 {
		reSnapshotInterval = time.Hour
	}
	return &Tracker{
		source:             source,
		logger:             logger.With("component", "orderbook_tracker"),
		reSnapshotInterval: reSnapshotInterval,
		replayBufferSize:   defaultReplayBufferSize,
		states:             make(map[types.TradingPair]*pairState),
	}
}

// Book returns the live OrderBook for pair, or nil if it isn't tracked.
func (t *Tracker) Book(pair types.TradingPair) *OrderBook {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[pair]
	if !ok {
		return nil
	}
	return st.book
}

// Start subscribes to every pair, bootstraps each from a snapshot, and
// routes the live diff/trade stream until ctx is cancelled. It blocks
// until ctx is done or subscribing fails.
func (t *Tracker) Start(ctx context.Context, pairs []types.TradingPair) error {
	t.mu.Lock()
	for _, p := range pairs {
		if _, ok := t.states[p]; !ok {
			t.states[p] = &pairState{book: NewOrderBook(p), replay: list.New()}
		}
	}
	t.mu.Unlock()

	diffs, trades, err := t.source.Subscribe(ctx, pairs)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for _, p := range pairs {
		if err := t.bootstrap(ctx, p); err != nil {
			t.logger.Error("bootstrap failed", "pair", p, "error", err)
		}
	}

	resnap := time.NewTicker(t.reSnapshotInterval)
	defer resnap.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case diff, ok := <-diffs:
			if !ok {
				return fmt.Errorf("diff stream closed")
			}
			t.routeDiff(ctx, diff)
		case trade, ok := <-trades:
			if !ok {
				return fmt.Errorf("trade stream closed")
			}
			t.routeTrade(trade)
		case <-resnap.C:
			for _, p := range pairs {
				if err := t.reSnapshot(ctx, p); err != nil {
					t.logger.Warn("periodic re-snapshot failed", "pair", p, "error", err)
				}
			}
		}
	}
}

// bootstrap fetches the initial snapshot for pair, applies it, then drains
// the replay buffer of diffs that arrived before the snapshot.
func (t *Tracker) bootstrap(ctx context.Context, pair types.TradingPair) error {
	snap, err := t.source.FetchSnapshot(ctx, pair)
	if err != nil {
		return fmt.Errorf("fetch snapshot for %s: %w", pair, err)
	}

	t.mu.Lock()
	st, ok := t.states[pair]
	if !ok {
		st = &pairState{book: NewOrderBook(pair), replay: list.New()}
		t.states[pair] = st
	}
	st.book.ApplySnapshot(snap)
	buffered := st.replay
	st.replay = list.New()
	st.bootstrapped = true
	t.mu.Unlock()

	for e := buffered.Front(); e != nil; e = e.Next() {
		diff := e.Value.(types.BookDiffMsg)
		if diff.UpdateID <= snap.UpdateID {
			continue // discard diffs at or before snapshot_uid
		}
		if _, err := st.book.ApplyDiff(diff); err != nil {
			t.logger.Warn("discontinuity while draining replay buffer", "pair", pair, "error", err)
			break
		}
	}
	return nil
}

// reSnapshot merges a fresh snapshot into an already-bootstrapped book,
// replacing both sides wholesale. Called on the periodic timer and also by
// routeDiff as soon as a discontinuity is detected, rather than waiting
// for the next tick.
func (t *Tracker) reSnapshot(ctx context.Context, pair types.TradingPair) error {
	snap, err := t.source.FetchSnapshot(ctx, pair)
	if err != nil {
		return err
	}
	t.mu.RLock()
	st, ok := t.states[pair]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	st.book.ApplySnapshot(snap)
	return nil
}

// routeDiff applies an incoming diff to its pair's book, buffering it
// instead if that pair hasn't been bootstrapped yet, and dropping it
// silently if the pair isn't tracked at all. A discontinuity (a gap
// between the diff and the book's last applied update id) leaves the diff
// unapplied and starts reSnapshot in the background, which replaces both
// sides once the fresh snapshot arrives. The book is not cleared meanwhile
// and the pair stays bootstrapped: diffs arriving before the new snapshot
// lands are not buffered, and each one that fails to chain starts another
// re-snapshot.
func (t *Tracker) routeDiff(ctx context.Context, diff types.BookDiffMsg) {
	t.mu.RLock()
	st, ok := t.states[diff.Pair]
	t.mu.RUnlock()
	if !ok {
		return // unknown pair, drop
	}

	if !st.bootstrapped {
		t.mu.Lock()
		if st.replay.Len() >= t.replayBufferSize {
			st.replay.Remove(st.replay.Front())
		}
		st.replay.PushBack(diff)
		t.mu.Unlock()
		return
	}

	_, err := st.book.ApplyDiff(diff)
	if err == nil {
		return
	}

	var disc *ErrDiscontinuity
	if !errors.As(err, &disc) {
		return
	}
	t.logger.Warn("order book discontinuity detected, re-snapshotting", "pair", diff.Pair, "expected", disc.Expected, "got", disc.Got)
	go func() {
		if err := t.reSnapshot(ctx, diff.Pair); err != nil {
			t.logger.Error("discontinuity re-snapshot failed", "pair", diff.Pair, "error", err)
		}
	}()
}

func (t *Tracker) routeTrade(trade types.TradeMsg) {
	t.mu.RLock()
	st, ok := t.states[trade.Pair]
	t.mu.RUnlock()
	if !ok {
		return
	}
	st.book.RecordTrade(trade)
}
