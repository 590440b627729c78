// Package server provides HTTP server construction for checklist-sync.
package server

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/alexjbarnes/checklist-sync/internal/auth"
	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	// TokenHash is the bcrypt hash of the bearer token clients present.
	TokenHash  string
	MCPHandler http.Handler
	// State reports the sync state on the unauthenticated health endpoint.
	State  func() models.SyncState
	Logger *slog.Logger
}

// NewMux builds the HTTP mux with the health and MCP endpoints. The MCP
// endpoint is protected by bearer token middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth(cfg.State))

	authMiddleware := auth.Middleware(cfg.TokenHash, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(logRequests(cfg.MCPHandler, cfg.Logger)))

	return mux
}

// logRequests records each authenticated request with the client IP the
// auth middleware resolved.
func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("mcp request",
			slog.String("ip", auth.RequestRemoteIP(r.Context())),
			slog.String("method", r.Method),
		)

		next.ServeHTTP(w, r)
	})
}

func handleHealth(state func() models.SyncState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := struct {
			Status string `json:"status"`
			State  string `json:"state,omitempty"`
		}{Status: "ok"}

		if state != nil {
			body.State = state().String()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}
