package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// ErrNoFrame is returned when the stream has not produced a frame yet.
var ErrNoFrame = errors.New("source: no frame available")

// MJPEG reads a multipart/x-mixed-replace camera stream (the standard
// output of webcam daemons like mjpg-streamer) and keeps the most recent
// decoded frame. The read loop runs in its own goroutine; Frame never
// waits on the network.
type MJPEG struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	current image.Image
	ready   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMJPEG opens the camera stream and starts the read loop. The source
// reports not-ready until the first frame decodes.
func NewMJPEG(ctx context.Context, url string) (*MJPEG, error) {
	if url == "" {
		return nil, errors.New("source: camera stream URL is required")
	}
	m := &MJPEG{
		url:    url,
		client: &http.Client{}, // stream stays open, no overall timeout
		done:   make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.readLoop(runCtx)
	return m, nil
}

// Ready implements Source.
func (m *MJPEG) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Frame implements Source. Returns the most recent decoded frame.
func (m *MJPEG) Frame(_ context.Context) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoFrame
	}
	return m.current, nil
}

// Close implements Source.
func (m *MJPEG) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// readLoop keeps the stream open, reopening it after failures. A camera
// outage only flips readiness off; the sampler skips ticks until frames
// flow again.
func (m *MJPEG) readLoop(ctx context.Context) {
	defer close(m.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.consume(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Camera stream interrupted", "url", m.url, "error", err)
		}
		m.mu.Lock()
		m.ready = false
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// consume reads one connection's worth of frames.
func (m *MJPEG) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}
	if mediaType != "multipart/x-mixed-replace" {
		return fmt.Errorf("unexpected content type %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return errors.New("camera stream missing multipart boundary")
	}

	reader := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		img, err := jpeg.Decode(part)
		_ = part.Close()
		if err != nil {
			// Partial frame at connection teardown is normal.
			slog.Debug("Dropped undecodable frame", "error", err)
			continue
		}
		m.mu.Lock()
		m.current = img
		m.ready = true
		m.mu.Unlock()
	}
}
