package demo

import (
	"context"
	"encoding/json"
	"fmt"

	"connectorcore/internal/userstream"
	"connectorcore/internal/wsassistant"
)

// UserStreamSource implements userstream.DataSource over the demo venue's
// private websocket channel. Listen starts the WSAssistant session and
// subscribes to the private channel; it sends no login frame or signed
// authentication payload, and apiKey is stored but not sent.
type UserStreamSource struct {
	ws      *wsassistant.WSAssistant
	apiKey  string
	channel string
}

// NewUserStreamSource creates a UserStreamSource. ws must be wired to the
// venue's private feed URL with a subscribeFunc that builds this venue's
// subscribe wire message.
func NewUserStreamSource(ws *wsassistant.WSAssistant, apiKey string) *UserStreamSource {
	return &UserStreamSource{ws: ws, apiKey: apiKey, channel: "private"}
}

var _ userstream.DataSource = (*UserStreamSource)(nil)

// Listen runs the private websocket session and forwards every decoded
// frame to out until ctx is cancelled or the connection drops, at which
// point it returns so userstream.Tracker can restart it.
func (s *UserStreamSource) Listen(ctx context.Context, out chan<- any) error {
	runDone := make(chan error, 1)
	go func() { runDone <- s.ws.Run(ctx) }()

	if err := s.ws.Subscribe([]string{s.channel}); err != nil {
		return fmt.Errorf("subscribe private channel: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runDone:
			return err
		case raw, ok := <-s.ws.Messages():
			if !ok {
				return fmt.Errorf("private channel closed")
			}
			var evt rawUserStreamEvent
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
