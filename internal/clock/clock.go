// Package clock drives the periodic ticks that every connector and
// strategy iterator reacts to. Two modes are supported:
//
//   - Realtime: ticks wall-clock-driven, on each tick_size boundary.
//   - Backtest: logical time only advances when RunTil is called.
//
// A single shared dispatcher drives every registered iterator in
// registration order on each tick.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mode selects how a Clock advances time.
type Mode int

const (
	Realtime Mode = iota
	Backtest
)

// Iterator is anything the Clock can tick. Connectors and strategies
// implement this to receive periodic callbacks.
type Iterator interface {
	Tick(ts time.Time)
	Ready() bool
}

// Clock ticks its registered iterators at tickSize intervals (Realtime) or
// whenever RunTil is called (Backtest). A panic in one iterator is
// recovered and surfaced on Errors() rather than aborting the tick of the
// remaining iterators.
type Clock struct {
	mode     Mode
	tickSize time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	iterators []Iterator
	current   time.Time // last time dispatched to iterators

	errCh chan IteratorError
}

// IteratorError pairs an iterator with the error it surfaced during a tick.
type IteratorError struct {
	Iterator Iterator
	Err      error
	At       time.Time
}

// New creates a Clock in the given mode. tickSize is the realtime interval,
// and in Backtest mode the step RunTil advances logical time by (time only
// moves via RunTil). A non-positive tickSize makes RunTil jump straight to
// its target in a single tick.
func New(mode Mode, tickSize time.Duration, logger *slog.Logger) *Clock {
	return &Clock{
		mode:     mode,
		tickSize: tickSize,
		logger:   logger.With("component", "clock"),
		errCh:    make(chan IteratorError, 64),
	}
}

// AddIterator registers an iterator. Registration order is the tick order.
func (c *Clock) AddIterator(it Iterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterators = append(c.iterators, it)
}

// RemoveIterator unregisters an iterator, if present.
func (c *Clock) RemoveIterator(it Iterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.iterators {
		if existing == it {
			c.iterators = append(c.iterators[:i], c.iterators[i+1:]...)
			return
		}
	}
}

// Errors returns the channel of per-iterator tick failures.
func (c *Clock) Errors() <-chan IteratorError {
	return c.errCh
}

// Run drives a Realtime clock until ctx is cancelled. No-op in Backtest
// mode — use RunTil instead.
func (c *Clock) Run(ctx context.Context) {
	if c.mode != Realtime {
		c.logger.Warn("Run called on a non-realtime clock, ignoring")
		return
	}

	ticker := time.NewTicker(c.tickSize)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.dispatch(now)
		}
	}
}

// RunTil advances a Backtest clock's logical time to target, dispatching
// one tick per tickSize boundary crossed. Idempotent for a target already
// reached: time never moves backwards, so a target ≤ current is a no-op.
func (c *Clock) RunTil(target time.Time) {
	if c.mode != Backtest {
		c.logger.Warn("RunTil called on a non-backtest clock, ignoring")
		return
	}

	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current.IsZero() {
		current = target
		c.dispatch(current)
		return
	}

	if c.tickSize <= 0 {
		if target.After(current) {
			c.dispatch(target)
		}
		return
	}

	for t := current.Add(c.tickSize); !t.After(target); t = t.Add(c.tickSize) {
		c.dispatch(t)
	}
}

// dispatch ticks every registered iterator once, in registration order. A
// panic or error from one iterator never prevents the rest from ticking;
// failures are surfaced on Errors() instead.
func (c *Clock) dispatch(now time.Time) {
	c.mu.Lock()
	c.current = now
	iterators := make([]Iterator, len(c.iterators))
	copy(iterators, c.iterators)
	c.mu.Unlock()

	for _, it := range iterators {
		c.tickOne(it, now)
	}
}

func (c *Clock) tickOne(it Iterator, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			c.logger.Error("iterator panicked during tick", "panic", r)
			c.surfaceError(it, now, err)
		}
	}()
	it.Tick(now)
}

func (c *Clock) surfaceError(it Iterator, now time.Time, err error) {
	select {
	case c.errCh <- IteratorError{Iterator: it, Err: err, At: now}:
	default:
		c.logger.Warn("clock error channel full, dropping iterator error")
	}
}

// Now returns the clock's current time: wall-clock for Realtime, the last
// dispatched logical time for Backtest.
func (c *Clock) Now() time.Time {
	if c.mode == Realtime {
		return time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
