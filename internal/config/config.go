// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	Service     ServiceConfig
	Sampler     SamplerConfig
	Camera      CameraConfig
	// TickInterval is the integration timer granularity for smooth
	// accumulator updates.
	TickInterval time.Duration
	// StopOnFatal controls whether a fatal transport failure ends the
	// session (accumulators are retained either way).
	StopOnFatal bool
}

// ServiceConfig describes the remote classification service connection.
type ServiceConfig struct {
	Endpoint             string
	Transports           []string // preference order: "streaming", "polling"
	Reconnection         bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ConnectTimeout       time.Duration
	AuthToken            string
}

// SamplerConfig controls the frame sampling loop.
type SamplerConfig struct {
	Interval    time.Duration
	JPEGQuality int
	MaxWidth    int
}

// CameraConfig describes the live video source.
type CameraConfig struct {
	// StreamURL is an MJPEG (multipart/x-mixed-replace) camera stream,
	// e.g. the output of a local webcam daemon.
	StreamURL string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Service: ServiceConfig{
			Endpoint:             getEnv("SERVICE_ENDPOINT", "ws://localhost:9000/ws"),
			Transports:           getEnvList("SERVICE_TRANSPORTS", []string{"streaming", "polling"}),
			Reconnection:         getEnvBool("SERVICE_RECONNECTION", true),
			MaxReconnectAttempts: getEnvInt("SERVICE_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:       getEnvDuration("SERVICE_RECONNECT_DELAY", 1*time.Second),
			ConnectTimeout:       getEnvDuration("SERVICE_CONNECT_TIMEOUT", 10*time.Second),
			AuthToken:            getEnv("SERVICE_AUTH_TOKEN", ""),
		},
		Sampler: SamplerConfig{
			Interval:    getEnvDuration("SAMPLE_INTERVAL", 700*time.Millisecond),
			JPEGQuality: getEnvInt("JPEG_QUALITY", 70),
			MaxWidth:    getEnvInt("FRAME_MAX_WIDTH", 640),
		},
		Camera: CameraConfig{
			StreamURL: getEnv("CAMERA_STREAM_URL", ""),
		},
		TickInterval: getEnvDuration("TICK_INTERVAL", 10*time.Millisecond),
		StopOnFatal:  getEnvBool("STOP_ON_FATAL", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Service.Endpoint == "" {
		return fmt.Errorf("SERVICE_ENDPOINT cannot be empty")
	}
	if len(c.Service.Transports) == 0 {
		return fmt.Errorf("SERVICE_TRANSPORTS cannot be empty")
	}
	for _, tr := range c.Service.Transports {
		if tr != "streaming" && tr != "polling" {
			return fmt.Errorf("unknown transport %q (want streaming or polling)", tr)
		}
	}
	if c.Service.MaxReconnectAttempts < 0 {
		return fmt.Errorf("SERVICE_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be > 0")
	}
	if c.Sampler.JPEGQuality < 1 || c.Sampler.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be in 1..100")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
