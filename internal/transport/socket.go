package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/ehab20011/computer-vision/internal/domain"
	"github.com/ehab20011/computer-vision/internal/metrics"
)

// Socket is the streaming transport: one logical websocket connection with
// automatic reconnection.
type Socket struct {
	cfg     Config
	handler Handler
	met     *metrics.Metrics
	outbox  *mailbox
	connState

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSocket creates a streaming transport. Connect must be called before
// frames flow.
func NewSocket(cfg Config, h Handler, met *metrics.Metrics) *Socket {
	return &Socket{
		cfg:     cfg,
		handler: h,
		met:     met,
		outbox:  newMailbox(),
	}
}

// Connect starts the connection manager goroutine. No-op when already
// running.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.manage(runCtx, s.done)
	return nil
}

// Disconnect tears down the connection on every exit path of the owning
// session. Idempotent; safe to call while a reconnect is in flight.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// SendFrame forwards one encoded frame, best-effort. Dropped while not
// connected.
func (s *Socket) SendFrame(payload []byte) {
	if s.Status() != domain.Connected {
		if s.met != nil {
			s.met.FramesDropped.Add(1)
		}
		return
	}
	msg, err := encodeFrame(payload)
	if err != nil {
		slog.Error("Failed to encode frame message", "error", err)
		return
	}
	if s.outbox.put(msg) {
		if s.met != nil {
			s.met.FramesDropped.Add(1)
		}
		slog.Debug("Overwrote pending frame, transport slower than sampler")
	}
}

// manage owns the dial/reconnect loop for the lifetime of one Connect
// scope.
func (s *Socket) manage(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		// A newer Connect scope may own the state by now; only release
		// the scope this goroutine started with.
		if s.done == done {
			s.running = false
			s.set(domain.Disconnected)
		}
		s.mu.Unlock()
		close(done)
	}()

	attempts := 0
	for {
		s.set(domain.Connecting)
		s.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Connecting})

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.emitClosed()
				return
			}
			slog.Warn("Websocket dial failed", "endpoint", s.cfg.Endpoint, "error", err, "attempt", attempts)
			if s.giveUp(&attempts, err) {
				return
			}
			if !s.pause(ctx) {
				s.emitClosed()
				return
			}
			continue
		}

		attempts = 0
		s.set(domain.Connected)
		s.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Connected})
		slog.Info("Connected to classification service", "endpoint", s.cfg.Endpoint)

		runErr := s.run(ctx, conn)
		s.set(domain.Disconnected)

		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "session ended")
			s.emitClosed()
			return
		}

		slog.Warn("Connection lost", "error", runErr)
		s.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Disconnected, Err: runErr})
		if s.giveUp(&attempts, runErr) {
			return
		}
		if !s.pause(ctx) {
			s.emitClosed()
			return
		}
	}
}

// dial performs one connection attempt bounded by ConnectTimeout.
func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, resp, err := websocket.Dial(dialCtx, s.cfg.Endpoint, &websocket.DialOptions{
		HTTPHeader: s.cfg.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// run drives the read and write loops until one fails or ctx ends.
func (s *Socket) run(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	// Write loop: outbox -> service.
	go func() {
		defer wg.Done()
		defer cancel()
		errCh <- s.writeLoop(connCtx, conn)
	}()

	// Read loop: service -> handler.
	go func() {
		defer wg.Done()
		defer cancel()
		errCh <- s.readLoop(connCtx, conn)
	}()

	wg.Wait()
	_ = conn.CloseNow()
	return <-errCh
}

func (s *Socket) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.outbox.notify:
			payload := s.outbox.take()
			if payload == nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return fmt.Errorf("frame write: %w", err)
			}
			if s.met != nil {
				s.met.FramesSent.Add(1)
			}
		}
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return fmt.Errorf("connection closed by service: %w", err)
			}
			return err
		}
		dispatch(s.handler, data)
	}
}

// giveUp checks the remaining retry allowance. Surfaces the terminal failure to the
// controller when exhausted.
func (s *Socket) giveUp(attempts *int, cause error) bool {
	if !s.cfg.Reconnection || *attempts >= s.cfg.MaxReconnectAttempts {
		// The scope ends here; release it before the fatal event so the
		// handler can Connect again, even from inside the callback.
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.set(domain.Disconnected)
		s.handler.OnConnectionEvent(domain.ConnectionEvent{
			Status: domain.Disconnected,
			Err:    cause,
			Fatal:  true,
		})
		slog.Error("Reconnection attempts exhausted", "attempts", *attempts, "error", cause)
		return true
	}
	*attempts++
	if s.met != nil {
		s.met.ReconnectAttempts.Add(1)
	}
	return false
}

// pause waits ReconnectDelay between attempts; false when ctx ended.
func (s *Socket) pause(ctx context.Context) bool {
	if s.cfg.ReconnectDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// emitClosed reports the orderly teardown at the end of a Connect scope.
func (s *Socket) emitClosed() {
	s.handler.OnConnectionEvent(domain.ConnectionEvent{Status: domain.Disconnected})
}
