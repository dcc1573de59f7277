package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingHandler struct {
	msgs []Inbound
}

func (h *recordingHandler) HandleInbound(ctx context.Context, msg Inbound) {
	h.msgs = append(h.msgs, msg)
}

func postWebhook(srv *WebhookServer, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/messages", strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Gateway-Token", token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestWebhookDispatchesInbound(t *testing.T) {
	h := &recordingHandler{}
	srv := NewWebhookServer(h, "s3cret", slog.Default())

	w := postWebhook(srv, "s3cret",
		`{"sender":"111@s.whatsapp.net","text":"taxi","location":{"lat":-23.5,"lng":-46.6}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.msgs) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(h.msgs))
	}
	msg := h.msgs[0]
	if msg.Sender != "111@s.whatsapp.net" || msg.Text != "taxi" || msg.LocationPin == nil {
		t.Fatalf("message mangled: %+v", msg)
	}
}

func TestWebhookRejectsBadToken(t *testing.T) {
	h := &recordingHandler{}
	srv := NewWebhookServer(h, "s3cret", slog.Default())

	if w := postWebhook(srv, "wrong", `{"sender":"x"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.msgs) != 0 {
		t.Fatal("message dispatched despite bad token")
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	h := &recordingHandler{}
	srv := NewWebhookServer(h, "", slog.Default())

	if w := postWebhook(srv, "", `{not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", w.Code)
	}
	if w := postWebhook(srv, "", `{"text":"no sender"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing sender status = %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewWebhookServer(&recordingHandler{}, "", slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}
