package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/moto-dispatch/internal/observability"
)

// WSFeed consumes the gateway's websocket event stream as an alternative to
// the webhook. It reconnects with exponential backoff and feeds every
// message event into the same routing chain.
type WSFeed struct {
	url     string
	token   string
	handler Handler
	logger  *slog.Logger
}

func NewWSFeed(url, token string, handler Handler, logger *slog.Logger) *WSFeed {
	return &WSFeed{url: url, token: token, handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("ws feed disconnected", "error", err, "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *WSFeed) consumeOnce(ctx context.Context) error {
	header := map[string][]string{}
	if f.token != "" {
		header["Authorization"] = []string{"Bearer " + f.token}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.logger.Info("ws feed connected", "url", f.url)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("ws feed invalid event", "error", err)
			continue
		}
		if msg.Sender == "" {
			continue
		}
		observability.MessagesInbound.Inc()
		f.handler.HandleInbound(ctx, msg)
	}
}
