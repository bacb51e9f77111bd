// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds what the HTTP endpoints need to serve requests.
type Handler struct {
	hub      *Hub
	frames   FrameHandler
	cfg      *Config
	store    Pinger
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler builds the HTTP handlers around a running hub.
func NewHandler(hub *Hub, frames FrameHandler, store Pinger, cfg *Config, logger zerolog.Logger) *Handler {
	logger = logger.With().Str("component", "http").Logger()
	policy := NewOriginPolicy(cfg.AllowedOrigins, logger)
	return &Handler{
		hub:    hub,
		frames: frames,
		cfg:    cfg,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.CheckOrigin,
		},
		log: logger,
	}
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and hands it to the hub.
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, h.frames, h.cfg, r.RemoteAddr)

	// The hub launches the pump goroutines.
	if !h.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple liveness check that returns server status.
func (h *Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomcast server is running!")
}

type readiness struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}

// ReadyHandler reports whether the shared store answers.
func (h *Handler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	body := readiness{Status: "ok", Store: h.cfg.Store, Clients: h.hub.ClientCount()}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("readiness check failed")
		body.Status = "unavailable"
		body.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("error writing readiness response")
	}
}
