// Package sampler captures frames from the video source on a fixed
// cadence and forwards them to the transport.
package sampler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/ehab20011/computer-vision/internal/metrics"
	"github.com/ehab20011/computer-vision/internal/source"
	"golang.org/x/image/draw"
)

// Sender is the outbound side of the transport.
type Sender interface {
	SendFrame(payload []byte)
}

// Config controls the sampling loop.
type Config struct {
	// Interval is the sampling cadence. The contract value is 700ms.
	Interval time.Duration
	// JPEGQuality in 1..100.
	JPEGQuality int
	// MaxWidth caps the encoded frame width; larger frames are
	// downscaled before encoding. Zero disables scaling.
	MaxWidth int
}

// Sampler runs the capture loop while a session is active. It holds no
// state beyond the timer goroutine; a tick that finds the source not
// ready is skipped, and ticks are never gated on the previous frame's
// encode or send completing.
type Sampler struct {
	cfg    Config
	src    source.Source
	sender Sender
	met    *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sampler. Start arms the timer.
func New(cfg Config, src source.Source, sender Sender, met *metrics.Metrics) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 700 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 70
	}
	return &Sampler{
		cfg:    cfg,
		src:    src,
		sender: sender,
		met:    met,
	}
}

// Start arms the sampling timer. No-op when already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	slog.Info("Frame sampler armed", "interval", s.cfg.Interval)
}

// Stop disarms the timer synchronously. No-op when idle.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("Frame sampler disarmed")
}

func (s *Sampler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Capture and send run off the tick goroutine so a slow
			// encode never delays the next sample.
			go s.sample(ctx)
		}
	}
}

// sample captures, encodes, and forwards one frame. A source failure
// skips the tick; it is not fatal.
func (s *Sampler) sample(ctx context.Context) {
	if !s.src.Ready() {
		if s.met != nil {
			s.met.FramesSkipped.Add(1)
		}
		return
	}
	img, err := s.src.Frame(ctx)
	if err != nil {
		if s.met != nil {
			s.met.FramesSkipped.Add(1)
		}
		slog.Debug("Frame capture skipped", "error", err)
		return
	}
	payload, err := s.encode(img)
	if err != nil {
		slog.Warn("Frame encode failed", "error", err)
		return
	}
	if s.met != nil {
		s.met.FramesSampled.Add(1)
	}
	s.sender.SendFrame(payload)
}

// encode downscales to MaxWidth if needed and compresses to JPEG.
func (s *Sampler) encode(img image.Image) ([]byte, error) {
	img = s.downscale(img)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sampler) downscale(img image.Image) image.Image {
	bounds := img.Bounds()
	if s.cfg.MaxWidth <= 0 || bounds.Dx() <= s.cfg.MaxWidth {
		return img
	}
	h := bounds.Dy() * s.cfg.MaxWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, s.cfg.MaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
