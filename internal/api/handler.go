// Package api provides the local HTTP control surface read by the
// presentation layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ehab20011/computer-vision/internal/metrics"
	"github.com/ehab20011/computer-vision/internal/session"
	"github.com/go-chi/chi/v5"
)

// Handler exposes controller state and the start/stop commands.
type Handler struct {
	ctrl *session.Controller
	met  *metrics.Metrics
}

// NewHandler creates a new Handler.
func NewHandler(ctrl *session.Controller, met *metrics.Metrics) *Handler {
	return &Handler{ctrl: ctrl, met: met}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the control API on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/stop", h.StopSession)
	})
	if h.met != nil {
		r.Method(http.MethodGet, "/metrics", h.met.Handler())
	}
}

// GetSession returns the controller snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// StartSession handles the start command.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Start()
	JSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// StopSession handles the stop command.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop()
	JSON(w, http.StatusOK, h.ctrl.Snapshot())
}
