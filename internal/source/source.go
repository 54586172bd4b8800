// Package source provides live video frame sources for the sampler.
package source

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// Source produces frames from a live video stream. The sampler is the
// single reader; a Source never blocks it for longer than one frame fetch.
type Source interface {
	// Ready reports whether the source can currently produce frames.
	// The sampler skips ticks while the source is not ready, so a
	// black/uninitialized feed is never sent.
	Ready() bool
	// Frame returns the most recent frame.
	Frame(ctx context.Context) (image.Image, error)
	// Close releases the underlying device or stream.
	Close() error
}

// Static is a fixed synthetic frame source used for development and
// tests.
type Static struct {
	mu    sync.Mutex
	img   image.Image
	ready bool
}

// NewStatic creates a ready source producing a solid-color frame of the
// given size.
func NewStatic(width, height int) *Static {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := color.RGBA{R: 40, G: 40, B: 60, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return &Static{img: img, ready: true}
}

// SetReady flips readiness (tests).
func (s *Static) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetFrame replaces the produced frame (tests).
func (s *Static) SetFrame(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
}

// Ready implements Source.
func (s *Static) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Frame implements Source.
func (s *Static) Frame(_ context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, nil
}

// Close implements Source.
func (s *Static) Close() error {
	return nil
}
