package wsassistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Fixed reconnect backoffs: 5s for transient errors (read/write failures,
// idle timeout), 30s for errors WSAssistant doesn't recognize.
const (
	transientBackoff  = 5 * time.Second
	unexpectedBackoff = 30 * time.Second

	defaultHeartbeat = 30 * time.Second
	defaultMaxIdle   = 90 * time.Second
	writeTimeout     = 10 * time.Second
)

// TransientError marks a WS failure that should reconnect quickly (e.g. a
// read deadline exceeded because the venue went idle).
type TransientError struct{ err error }

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err so WSAssistant backs off for transientBackoff
// instead of unexpectedBackoff before reconnecting.
func NewTransientError(err error) error { return &TransientError{err: err} }

// WSAssistant maintains one reconnecting WebSocket connection, re-subscribing
// to every previously-subscribed channel id after each reconnect. It knows
// nothing about message shape: inbound frames are delivered raw on Messages().
// Reconnects use the two fixed backoff tiers above rather than continuous
// exponential backoff.
type WSAssistant struct {
	url           string
	heartbeat     time.Duration
	maxIdle       time.Duration
	subscribeFunc func(ids []string, unsubscribe bool) any

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.Mutex
	subs  map[string]bool

	messages chan []byte
	logger   *slog.Logger
}

// Option configures a WSAssistant at construction time.
type Option func(*WSAssistant)

// WithHeartbeat overrides the ping interval (default 30s).
func WithHeartbeat(d time.Duration) Option { return func(a *WSAssistant) { a.heartbeat = d } }

// WithMaxIdle overrides the read-idle threshold (default 90s) after which
// the connection is considered stale and is torn down and reconnected.
func WithMaxIdle(d time.Duration) Option { return func(a *WSAssistant) { a.maxIdle = d } }

// New creates a WSAssistant for the given endpoint. subscribeFunc builds the
// wire message for a (un)subscribe operation over the given ids; it is
// called both for explicit Subscribe/Unsubscribe calls and to replay the
// full subscription set after a reconnect.
func New(url string, subscribeFunc func(ids []string, unsubscribe bool) any, logger *slog.Logger, opts ...Option) *WSAssistant {
	a := &WSAssistant{
		url:           url,
		heartbeat:     defaultHeartbeat,
		maxIdle:       defaultMaxIdle,
		subscribeFunc: subscribeFunc,
		subs:          make(map[string]bool),
		messages:      make(chan []byte, 256),
		logger:        logger.With("component", "ws_assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Messages returns the channel of raw inbound frames.
func (a *WSAssistant) Messages() <-chan []byte { return a.messages }

// Subscribe adds ids to the tracked subscription set and sends the
// subscribe message if currently connected.
func (a *WSAssistant) Subscribe(ids []string) error {
	a.subMu.Lock()
	for _, id := range ids {
		a.subs[id] = true
	}
	a.subMu.Unlock()
	return a.send(a.subscribeFunc(ids, false))
}

// Unsubscribe removes ids from the tracked subscription set and sends the
// unsubscribe message if currently connected.
func (a *WSAssistant) Unsubscribe(ids []string) error {
	a.subMu.Lock()
	for _, id := range ids {
		delete(a.subs, id)
	}
	a.subMu.Unlock()
	return a.send(a.subscribeFunc(ids, true))
}

// Run connects and maintains the session until ctx is cancelled, at which
// point the underlying connection is closed and Run returns ctx.Err().
func (a *WSAssistant) Run(ctx context.Context) error {
	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := unexpectedBackoff
		var transient *TransientError
		if errors.As(err, &transient) {
			backoff = transientBackoff
		}
		a.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (a *WSAssistant) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	defer func() {
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	if err := a.resubscribeAll(); err != nil {
		return NewTransientError(fmt.Errorf("resubscribe: %w", err))
	}

	a.logger.Info("websocket connected", "url", a.url)

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(a.maxIdle))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return NewTransientError(fmt.Errorf("read: %w", err))
		}

		select {
		case a.messages <- msg:
		default:
			a.logger.Warn("inbound message channel full, dropping frame")
		}
	}
}

func (a *WSAssistant) resubscribeAll() error {
	a.subMu.Lock()
	ids := make([]string, 0, len(a.subs))
	for id := range a.subs {
		ids = append(ids, id)
	}
	a.subMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return a.send(a.subscribeFunc(ids, false))
}

func (a *WSAssistant) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.writeMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (a *WSAssistant) send(v any) error {
	if v == nil {
		return nil
	}
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return nil // not connected: resubscribeAll replays the set on connect
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(v)
}

func (a *WSAssistant) writeMessage(msgType int, data []byte) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteMessage(msgType, data)
}

// Close closes the current connection, if any.
func (a *WSAssistant) Close() error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
