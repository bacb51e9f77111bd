// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for liveness, readiness and the WebSocket endpoint.
func SetupRoutes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HealthHandler)
	mux.HandleFunc("/healthz", h.ReadyHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	return mux
}
