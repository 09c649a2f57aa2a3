package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/visiona/lookout/internal/config"
)

// HealthServer exposes liveness and readiness over local HTTP.
type HealthServer struct {
	cfg     *config.Config
	status  func() map[string]interface{}
	server  *http.Server
	started time.Time
}

// NewHealthServer builds the server; Start launches it.
func NewHealthServer(cfg *config.Config, status func() map[string]interface{}) *HealthServer {
	return &HealthServer{cfg: cfg, status: status}
}

// Start runs the server in the background.
func (h *HealthServer) Start() {
	h.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.livenessHandler)
	mux.HandleFunc("/readiness", h.readinessHandler)

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Health.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", h.cfg.Health.Port,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
}

// livenessHandler answers /health: the process is alive.
func (h *HealthServer) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(h.started).Seconds()),
	})
}

// readinessHandler answers /readiness with the full status snapshot.
// A stopped stream reports 503.
func (h *HealthServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := h.status()
	code := http.StatusOK
	if state, ok := status["state"].(string); ok && state == "stopped" {
		code = http.StatusServiceUnavailable
	}
	status["uptime_seconds"] = int64(time.Since(h.started).Seconds())

	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// Stop shuts the server down gracefully.
func (h *HealthServer) Stop(ctx context.Context) {
	if h.server == nil {
		return
	}
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown", "error", err)
	}
}
