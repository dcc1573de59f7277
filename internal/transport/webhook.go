package transport

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/moto-dispatch/internal/observability"
)

// WebhookServer receives inbound message events pushed by the chat gateway
// and hands them to the routing chain. It also exposes health and metrics.
type WebhookServer struct {
	handler Handler
	secret  string
	logger  *slog.Logger
	mux     *mux.Router
}

func NewWebhookServer(handler Handler, secret string, logger *slog.Logger) *WebhookServer {
	s := &WebhookServer{handler: handler, secret: secret, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *WebhookServer) routes() {
	s.mux.HandleFunc("/webhook/messages", s.handleInbound).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *WebhookServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *WebhookServer) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && r.Header.Get("X-Gateway-Token") != s.secret {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	var msg Inbound
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if msg.Sender == "" {
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}
	observability.MessagesInbound.Inc()
	s.handler.HandleInbound(r.Context(), msg)
	// always acknowledge so the gateway does not redeliver
	w.WriteHeader(http.StatusOK)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
