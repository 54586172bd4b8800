// Classifysim - local stand-in for the remote classification service.
//
// It speaks the same message contract as the real service: inbound frame
// messages, outbound focus_status and error messages. Classification is
// simulated (alternating labels on a fixed period) so the full client loop
// can run without the real model.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

type wireMessage struct {
	Type   string `json:"type"`
	Frame  string `json:"frame,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// simulator flips between the two labels on a fixed period and
// occasionally reports a processing error.
type simulator struct {
	flipEvery time.Duration
	errorRate float64
	started   time.Time
	frames    atomic.Uint64
}

func newSimulator(flipEvery time.Duration, errorRate float64) *simulator {
	return &simulator{
		flipEvery: flipEvery,
		errorRate: errorRate,
		started:   time.Now(),
	}
}

// classify produces the response for one received frame.
func (s *simulator) classify() wireMessage {
	s.frames.Add(1)
	if s.errorRate > 0 && rand.Float64() < s.errorRate {
		return wireMessage{Type: "error", Error: "no face detected in frame"}
	}
	phase := int(time.Since(s.started) / s.flipEvery)
	if phase%2 == 1 {
		return wireMessage{Type: "focus_status", Status: "Distracted - looking away"}
	}
	return wireMessage{Type: "focus_status", Status: "Focused"}
}

func (s *simulator) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	slog.Info("Client connected", "ip", r.RemoteAddr)
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Info("Client disconnected", "ip", r.RemoteAddr)
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "frame" {
			continue
		}
		resp, err := json.Marshal(s.classify())
		if err != nil {
			slog.Error("Failed to encode response", "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
			slog.Warn("WebSocket write error", "error", err)
			return
		}
	}
}

// serveClassify is the polling-transport endpoint: one frame per POST,
// classification in the response body.
func (s *simulator) serveClassify(w http.ResponseWriter, r *http.Request) {
	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Frame == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(wireMessage{Type: "error", Error: "invalid frame payload"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.classify())
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	port := getEnv("SIM_PORT", "9000")
	flipEvery := 5 * time.Second
	if v := os.Getenv("SIM_FLIP_EVERY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			flipEvery = d
		}
	}
	errorRate := 0.0
	if v := os.Getenv("SIM_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			errorRate = f
		}
	}

	sim := newSimulator(flipEvery, errorRate)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Get("/ws", sim.serveWS)
	r.Post("/classify", sim.serveClassify)

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Websocket sessions stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Classification simulator listening", "addr", srv.Addr, "flip_every", flipEvery, "error_rate", errorRate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Simulator failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Simulator forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Simulator stopped", "frames_classified", sim.frames.Load())
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
