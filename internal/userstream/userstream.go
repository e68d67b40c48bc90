// Package userstream implements the per-venue private-channel contract:
// authenticate, subscribe to balance/order/position/trade channels, and
// hand the connector a last-received-time-stamped async queue of raw
// events, decoded independently of the order-book stream.
package userstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DataSource is the per-venue contract: Listen authenticates and streams
// raw private-channel events until ctx is cancelled or the connection is
// lost, at which point it returns an error so the tracker can reconnect.
type DataSource interface {
	Listen(ctx context.Context, out chan<- any) error
}

// Tracker drains a DataSource, stamping last_recv_time on every message and
// exposing the events on a bounded async queue.
// Reconnection is the DataSource's own responsibility (mirroring
// wsassistant.WSAssistant's backoff); the Tracker only restarts Listen when
// it returns, with its own short backoff to avoid a hot loop on a
// permanently broken source.
type Tracker struct {
	source DataSource
	logger *slog.Logger

	queue chan any

	mu           sync.RWMutex
	lastRecvTime time.Time
}

// NewTracker creates a Tracker with the given queue depth.
func NewTracker(source DataSource, queueDepth int, logger *slog.Logger) *Tracker {
	if queueDepth <= 0 {
		queueDepth = 1000
	}
	return &Tracker{
		source: source,
		logger: logger.With("component", "userstream_tracker"),
		queue:  make(chan any, queueDepth),
	}
}

// Events returns the async queue of raw private-channel events.
func (t *Tracker) Events() <-chan any { return t.queue }

// LastRecvTime returns the last time any event was received, zero if none
// has arrived yet. The connector's status-poll loop uses this to choose
// between its short and long poll intervals.
func (t *Tracker) LastRecvTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRecvTime
}

// Start drains the data source until ctx is cancelled, restarting Listen
// with a short backoff whenever it returns early.
func (t *Tracker) Start(ctx context.Context) error {
	internal := make(chan any, cap(t.queue))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-internal:
				if !ok {
					return
				}
				t.mu.Lock()
				t.lastRecvTime = time.Now()
				t.mu.Unlock()
				select {
				case t.queue <- msg:
				default:
					t.logger.Warn("user stream queue full, dropping event")
				}
			}
		}
	}()

	for {
		err := t.source.Listen(ctx, internal)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("user stream disconnected, restarting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// ErrNotReady is returned by components that require at least one private
// stream message before they can consider themselves ready.
var ErrNotReady = fmt.Errorf("user stream has not received a message yet")
