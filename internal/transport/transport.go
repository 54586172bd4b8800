// Package transport maintains the persistent duplex connection to the
// remote classification service.
//
// The service contract is small: the client sends sampled frames, the
// service replies with classification results and processing errors out of
// band. The transport owns the connection state exclusively; the session
// controller only sees translated events.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehab20011/computer-vision/internal/domain"
	"github.com/ehab20011/computer-vision/internal/metrics"
)

// Handler receives inbound events translated 1:1 from the wire.
type Handler interface {
	OnClassification(status string)
	OnServiceError(msg string)
	OnConnectionEvent(ev domain.ConnectionEvent)
}

// Config holds connection options for the classification service.
type Config struct {
	// Endpoint is the service URL (ws:// or wss:// for streaming).
	Endpoint string
	// Transports is the preference list: "streaming", "polling". The
	// first supported entry is used.
	Transports []string
	// Reconnection enables automatic reconnection after an unexpected
	// disconnect.
	Reconnection bool
	// MaxReconnectAttempts bounds consecutive reconnection attempts.
	MaxReconnectAttempts int
	// ReconnectDelay is the pause between attempts.
	ReconnectDelay time.Duration
	// ConnectTimeout bounds each dial.
	ConnectTimeout time.Duration
	// Header carries credentials/CORS headers where the service
	// requires them.
	Header http.Header
}

// Transport is a duplex connection to the classification service.
type Transport interface {
	// Connect establishes the connection and starts delivering inbound
	// events. Calling Connect while already connected is a no-op.
	Connect(ctx context.Context) error
	// SendFrame forwards one encoded frame, best-effort. Frames are
	// silently dropped while not connected; a pending unsent frame is
	// overwritten, never queued.
	SendFrame(payload []byte)
	// Disconnect tears the connection down. Idempotent.
	Disconnect()
	// Status returns the current connection status.
	Status() domain.ConnectionStatus
}

// New picks the first supported transport from the preference list.
func New(cfg Config, h Handler, met *metrics.Metrics) (Transport, error) {
	for _, tr := range cfg.Transports {
		switch tr {
		case "streaming":
			return NewSocket(cfg, h, met), nil
		case "polling":
			return NewPoller(cfg, h, met), nil
		}
	}
	return nil, fmt.Errorf("no supported transport in %v", cfg.Transports)
}

// connState is the shared state machine embedded by both transports.
type connState struct {
	status atomic.Int32 // domain.ConnectionStatus
}

func (s *connState) set(v domain.ConnectionStatus) { s.status.Store(int32(v)) }

// Status returns the current connection status.
func (s *connState) Status() domain.ConnectionStatus {
	return domain.ConnectionStatus(s.status.Load())
}

// mailbox is a single-slot outbound buffer. A live feed makes queueing
// counterproductive: an unsent frame is stale the moment the next one is
// sampled, so a pending frame is overwritten rather than queued behind.
type mailbox struct {
	mu      sync.Mutex
	pending []byte
	notify  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// put replaces any pending payload and reports whether one was dropped.
func (m *mailbox) put(p []byte) (dropped bool) {
	m.mu.Lock()
	dropped = m.pending != nil
	m.pending = p
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return dropped
}

// take removes and returns the pending payload, if any.
func (m *mailbox) take() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = nil
	return p
}

// httpEndpoint derives the HTTP base URL from a websocket endpoint.
func httpEndpoint(endpoint string) string {
	s := endpoint
	switch {
	case strings.HasPrefix(s, "wss://"):
		s = "https://" + strings.TrimPrefix(s, "wss://")
	case strings.HasPrefix(s, "ws://"):
		s = "http://" + strings.TrimPrefix(s, "ws://")
	}
	return strings.TrimSuffix(s, "/ws")
}
