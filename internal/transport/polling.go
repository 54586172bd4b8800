package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ehab20011/computer-vision/internal/domain"
	"github.com/ehab20011/computer-vision/internal/metrics"
)

// Poller is the polling transport: each frame is POSTed to the service and
// the classification comes back in the response body. Used where the
// deployment cannot hold a websocket open (restrictive proxies).
type Poller struct {
	cfg     Config
	handler Handler
	met     *metrics.Metrics
	client  *http.Client
	base    string
	outbox  *mailbox
	connState

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a polling transport for the given endpoint.
func NewPoller(cfg Config, h Handler, met *metrics.Metrics) *Poller {
	return &Poller{
		cfg:     cfg,
		handler: h,
		met:     met,
		client:  &http.Client{Timeout: cfg.ConnectTimeout},
		base:    httpEndpoint(cfg.Endpoint),
		outbox:  newMailbox(),
	}
}

// Connect probes the service and starts the send worker. No-op when
// already running.
func (p *Poller) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.manage(runCtx, p.done)
	return nil
}

// Disconnect stops the send worker. Idempotent.
func (p *Poller) Disconnect() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
}

// SendFrame forwards one encoded frame, best-effort. Dropped while not
// connected; a pending frame is overwritten.
func (p *Poller) SendFrame(payload []byte) {
	if p.Status() != domain.Connected {
		if p.met != nil {
			p.met.FramesDropped.Add(1)
		}
		return
	}
	if p.outbox.put(payload) {
		if p.met != nil {
			p.met.FramesDropped.Add(1)
		}
	}
}

func (p *Poller) manage(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		// A newer Connect scope may own the state by now; only release
		// the scope this goroutine started with.
		if p.done == done {
			p.running = false
			p.set(domain.Disconnected)
		}
		p.mu.Unlock()
		close(done)
	}()

	attempts := 0
	for {
		p.set(domain.Connecting)
		p.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Connecting})

		if err := p.probe(ctx); err != nil {
			if ctx.Err() != nil {
				p.emitClosed()
				return
			}
			slog.Warn("Service probe failed", "base", p.base, "error", err, "attempt", attempts)
			if p.giveUp(&attempts, err) {
				return
			}
			if !p.pause(ctx) {
				p.emitClosed()
				return
			}
			continue
		}

		attempts = 0
		p.set(domain.Connected)
		p.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Connected})
		slog.Info("Polling transport ready", "base", p.base)

		runErr := p.sendLoop(ctx)
		p.set(domain.Disconnected)

		if ctx.Err() != nil {
			p.emitClosed()
			return
		}

		p.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Disconnected, Err: runErr})
		if p.giveUp(&attempts, runErr) {
			return
		}
		if !p.pause(ctx) {
			p.emitClosed()
			return
		}
	}
}

// probe verifies the service is reachable before declaring Connected.
func (p *Poller) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/health", nil)
	if err != nil {
		return err
	}
	p.applyHeader(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned %s", resp.Status)
	}
	return nil
}

// sendLoop posts pending frames until a request fails or ctx ends.
func (p *Poller) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.outbox.notify:
			payload := p.outbox.take()
			if payload == nil {
				continue
			}
			if err := p.classify(ctx, payload); err != nil {
				return err
			}
		}
	}
}

// classify posts one frame and dispatches the response through the same
// handler path the streaming transport uses.
func (p *Poller) classify(ctx context.Context, payload []byte) error {
	body, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/classify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.applyHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("classify request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("classify response: %w", err)
	}
	if p.met != nil {
		p.met.FramesSent.Add(1)
	}
	dispatch(p.handler, data)
	return nil
}

func (p *Poller) applyHeader(req *http.Request) {
	for k, vs := range p.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (p *Poller) giveUp(attempts *int, cause error) bool {
	if !p.cfg.Reconnection || *attempts >= p.cfg.MaxReconnectAttempts {
		// The scope ends here; release it before the fatal event so the
		// handler can Connect again, even from inside the callback.
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		p.set(domain.Disconnected)
		p.handler.OnConnectionEvent(domain.ConnectionEvent{
			Status: domain.Disconnected,
			Err:    cause,
			Fatal:  true,
		})
		slog.Error("Reconnection attempts exhausted", "attempts", *attempts, "error", cause)
		return true
	}
	*attempts++
	if p.met != nil {
		p.met.ReconnectAttempts.Add(1)
	}
	return false
}

func (p *Poller) pause(ctx context.Context) bool {
	if p.cfg.ReconnectDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Poller) emitClosed() {
	p.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Disconnected})
}
