package sampler

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/ehab20011/computer-vision/internal/metrics"
	"github.com/ehab20011/computer-vision/internal/source"
)

// recordingSender captures frames handed to the transport.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingSender) SendFrame(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, payload)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSender) first() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[0]
}

func waitForFrames(t *testing.T, rec *recordingSender, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for rec.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d frames, got %d", n, rec.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSamplerSendsJPEGFrames(t *testing.T) {
	rec := &recordingSender{}
	s := New(Config{Interval: 10 * time.Millisecond, JPEGQuality: 70}, source.NewStatic(64, 48), rec, metrics.New())

	s.Start()
	waitForFrames(t, rec, 3)
	s.Stop()

	frame := rec.first()
	if len(frame) < 2 || frame[0] != 0xFF || frame[1] != 0xD8 {
		t.Errorf("Expected JPEG SOI marker, got % x", frame[:2])
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("Frame does not decode as JPEG: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("Expected 64px wide frame, got %d", img.Bounds().Dx())
	}
}

func TestSamplerDownscalesLargeFrames(t *testing.T) {
	rec := &recordingSender{}
	src := source.NewStatic(1280, 720)
	s := New(Config{Interval: 10 * time.Millisecond, JPEGQuality: 70, MaxWidth: 320}, src, rec, nil)

	s.Start()
	waitForFrames(t, rec, 1)
	s.Stop()

	img, err := jpeg.Decode(bytes.NewReader(rec.first()))
	if err != nil {
		t.Fatalf("Frame does not decode as JPEG: %v", err)
	}
	if img.Bounds().Dx() != 320 {
		t.Errorf("Expected downscale to 320px, got %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 180 {
		t.Errorf("Expected aspect ratio preserved (180px), got %d", img.Bounds().Dy())
	}
}

func TestSamplerSkipsWhileSourceNotReady(t *testing.T) {
	rec := &recordingSender{}
	src := source.NewStatic(64, 48)
	src.SetReady(false)
	met := metrics.New()
	s := New(Config{Interval: 10 * time.Millisecond, JPEGQuality: 70}, src, rec, met)

	s.Start()
	time.Sleep(60 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("Expected no frames from an unready source, got %d", rec.count())
	}
	if met.FramesSkipped.Load() == 0 {
		t.Error("Expected skipped ticks to be counted")
	}

	// Source recovery is not fatal: sampling resumes on the next tick.
	src.SetReady(true)
	waitForFrames(t, rec, 1)
	s.Stop()
}

func TestSamplerStartStopIdempotent(t *testing.T) {
	rec := &recordingSender{}
	s := New(Config{Interval: 10 * time.Millisecond, JPEGQuality: 70}, source.NewStatic(8, 8), rec, nil)

	s.Start()
	s.Start()
	waitForFrames(t, rec, 1)
	s.Stop()
	s.Stop()

	// Disarmed: the timer must not fire again.
	n := rec.count()
	time.Sleep(50 * time.Millisecond)
	if rec.count() > n+1 { // one in-flight sample may land after Stop
		t.Errorf("Expected no new frames after stop, had %d then %d", n, rec.count())
	}
}

func TestSamplerDefaultsApplied(t *testing.T) {
	s := New(Config{}, source.NewStatic(8, 8), &recordingSender{}, nil)
	if s.cfg.Interval != 700*time.Millisecond {
		t.Errorf("Expected 700ms default cadence, got %v", s.cfg.Interval)
	}
	if s.cfg.JPEGQuality != 70 {
		t.Errorf("Expected default quality 70, got %d", s.cfg.JPEGQuality)
	}
}

func TestDownscaleKeepsSmallFrames(t *testing.T) {
	s := New(Config{MaxWidth: 640}, source.NewStatic(8, 8), &recordingSender{}, nil)
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	if got := s.downscale(img); got != img {
		t.Error("Expected frames under MaxWidth to pass through unscaled")
	}
}
