// Focustrack - webcam focus tracking client
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ehab20011/computer-vision/internal/api"
	"github.com/ehab20011/computer-vision/internal/config"
	"github.com/ehab20011/computer-vision/internal/metrics"
	"github.com/ehab20011/computer-vision/internal/middleware"
	"github.com/ehab20011/computer-vision/internal/sampler"
	"github.com/ehab20011/computer-vision/internal/session"
	"github.com/ehab20011/computer-vision/internal/source"
	"github.com/ehab20011/computer-vision/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting focus tracker", "port", cfg.Port, "endpoint", cfg.Service.Endpoint, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	// Video source: live camera stream when configured, otherwise a
	// synthetic frame for local development without a camera.
	var src source.Source
	if cfg.Camera.StreamURL != "" {
		src, err = source.NewMJPEG(ctx, cfg.Camera.StreamURL)
		if err != nil {
			slog.Error("Failed to open camera stream", "error", err)
			os.Exit(1)
		}
		slog.Info("Camera stream opened", "url", cfg.Camera.StreamURL)
	} else {
		src = source.NewStatic(640, 480)
		slog.Warn("CAMERA_STREAM_URL not set, using synthetic test frames")
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			slog.Error("Failed to close video source", "error", closeErr)
		}
	}()

	// The controller is wired first without its collaborators, then the
	// transport and sampler are attached: the transport needs the
	// controller as its event handler, and the controller owns both as a
	// scoped resource group.
	ctrl := session.New(
		session.WithTickInterval(cfg.TickInterval),
		session.WithStopOnFatal(cfg.StopOnFatal),
		session.WithMetrics(met),
	)

	header := http.Header{}
	if cfg.Service.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.Service.AuthToken)
	}
	tr, err := transport.New(transport.Config{
		Endpoint:             cfg.Service.Endpoint,
		Transports:           cfg.Service.Transports,
		Reconnection:         cfg.Service.Reconnection,
		MaxReconnectAttempts: cfg.Service.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Service.ReconnectDelay,
		ConnectTimeout:       cfg.Service.ConnectTimeout,
		Header:               header,
	}, ctrl, met)
	if err != nil {
		slog.Error("Failed to build transport", "error", err)
		os.Exit(1)
	}

	smp := sampler.New(sampler.Config{
		Interval:    cfg.Sampler.Interval,
		JPEGQuality: cfg.Sampler.JPEGQuality,
		MaxWidth:    cfg.Sampler.MaxWidth,
	}, src, tr, met)

	ctrl.Attach(tr, smp)

	// Control API for the presentation layer.
	handler := api.NewHandler(ctrl, met)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Control API failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// The session's scoped resources (sampler, integration ticker,
	// transport) are released together by Stop.
	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Control API forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Focus tracker stopped")
}
