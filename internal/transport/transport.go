// Package transport is the boundary to the chat gateway. Inbound messages
// arrive over a webhook or a websocket event feed; outbound messages go out
// through the gateway HTTP API with best-effort, at-least-once semantics.
package transport

import (
	"context"

	"github.com/example/moto-dispatch/internal/models"
)

// Inbound is one message event received from the chat gateway.
type Inbound struct {
	Sender      string        `json:"sender"`
	Text        string        `json:"text,omitempty"`
	LocationPin *models.Coord `json:"location,omitempty"`
}

// Messenger sends messages back to chat identifiers. Failures are logged by
// callers, never retried here.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	SendLocation(ctx context.Context, to string, pin models.Coord) error
}

// Handler consumes one inbound message. At most one handler in the routing
// chain consumes any given message.
type Handler interface {
	HandleInbound(ctx context.Context, msg Inbound)
}
