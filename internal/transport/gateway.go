package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/moto-dispatch/internal/models"
)

// GatewayClient talks to the chat gateway's HTTP API.
type GatewayClient struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewGatewayClient(baseURL, token string, logger *slog.Logger) (*GatewayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway baseURL cannot be empty")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+token).
		SetTimeout(10 * time.Second)
	return &GatewayClient{http: client, logger: logger}, nil
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendLocationRequest struct {
	To  string  `json:"to"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (g *GatewayClient) SendText(ctx context.Context, to, text string) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(sendTextRequest{To: to, Text: text}).
		Post("/api/v1/messages/text")
	if err != nil {
		return fmt.Errorf("gateway send text: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send text: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

func (g *GatewayClient) SendLocation(ctx context.Context, to string, pin models.Coord) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(sendLocationRequest{To: to, Lat: pin.Lat, Lng: pin.Lng}).
		Post("/api/v1/messages/location")
	if err != nil {
		return fmt.Errorf("gateway send location: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send location: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}
