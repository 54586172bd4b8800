package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ehab20011/computer-vision/internal/domain"
	"github.com/ehab20011/computer-vision/internal/metrics"
)

// chanHandler forwards transport callbacks onto channels so tests can
// wait for them without polling.
type chanHandler struct {
	classifications chan string
	serviceErrors   chan string
	events          chan domain.ConnectionEvent
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		classifications: make(chan string, 16),
		serviceErrors:   make(chan string, 16),
		events:          make(chan domain.ConnectionEvent, 16),
	}
}

func (h *chanHandler) OnClassification(status string) { h.classifications <- status }

func (h *chanHandler) OnServiceError(msg string) { h.serviceErrors <- msg }

func (h *chanHandler) OnConnectionEvent(ev domain.ConnectionEvent) { h.events <- ev }

// waitFor pulls connection events until one matches, failing on timeout.
func (h *chanHandler) waitFor(t *testing.T, match func(domain.ConnectionEvent) bool) domain.ConnectionEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("Timed out waiting for connection event")
			return domain.ConnectionEvent{}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoClassifier is a test service: every frame message gets a canned
// classification back.
func echoClassifier(t *testing.T, reply wireMessage) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeFrame {
				continue
			}
			out, _ := json.Marshal(reply)
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		Transports:           []string{"streaming"},
		Reconnection:         true,
		MaxReconnectAttempts: 2,
		ReconnectDelay:       10 * time.Millisecond,
		ConnectTimeout:       2 * time.Second,
	}
}

func TestSocketConnectAndClassify(t *testing.T) {
	srv := httptest.NewServer(echoClassifier(t, wireMessage{
		Type:   TypeFocusStatus,
		Status: "Distracted - looking away",
	}))
	defer srv.Close()

	h := newChanHandler()
	s := NewSocket(testConfig(wsURL(srv)), h, metrics.New())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Status == domain.Connected })
	if s.Status() != domain.Connected {
		t.Errorf("Expected Connected status, got %v", s.Status())
	}

	s.SendFrame([]byte{0xFF, 0xD8, 0x01, 0x02})

	select {
	case status := <-h.classifications:
		if status != "Distracted - looking away" {
			t.Errorf("Expected classification echoed back, got %q", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for classification")
	}
}

func TestSocketDisconnectIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(echoClassifier(t, wireMessage{Type: TypeFocusStatus, Status: "Focused"}))
	defer srv.Close()

	h := newChanHandler()
	s := NewSocket(testConfig(wsURL(srv)), h, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Status == domain.Connected })

	s.Disconnect()
	s.Disconnect()
	s.Disconnect()

	if s.Status() != domain.Disconnected {
		t.Errorf("Expected Disconnected after teardown, got %v", s.Status())
	}
}

func TestSocketDropsFramesWhileDisconnected(t *testing.T) {
	met := metrics.New()
	h := newChanHandler()
	s := NewSocket(testConfig("ws://127.0.0.1:1/ws"), h, met)

	// Never connected: every frame is dropped silently.
	s.SendFrame([]byte{0x01})
	s.SendFrame([]byte{0x02})

	if got := met.FramesDropped.Load(); got != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", got)
	}
	if got := met.FramesSent.Load(); got != 0 {
		t.Errorf("Expected 0 sent frames, got %d", got)
	}
}

func TestSocketReconnectExhaustionIsFatal(t *testing.T) {
	h := newChanHandler()
	// Port 1 refuses connections immediately.
	cfg := testConfig("ws://127.0.0.1:1/ws")
	met := metrics.New()
	s := NewSocket(cfg, h, met)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	ev := h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Fatal })
	if ev.Err == nil {
		t.Error("Expected fatal event to carry the connection error")
	}
	if ev.Status != domain.Disconnected {
		t.Errorf("Expected terminal Disconnected state, got %v", ev.Status)
	}
	if got := met.ReconnectAttempts.Load(); got != uint64(cfg.MaxReconnectAttempts) {
		t.Errorf("Expected %d reconnect attempts, got %d", cfg.MaxReconnectAttempts, got)
	}
}

func TestSocketConnectAgainAfterExhaustion(t *testing.T) {
	h := newChanHandler()
	s := NewSocket(testConfig("ws://127.0.0.1:1/ws"), h, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Fatal })

	// Exhaustion released the connection scope; a fresh Connect must
	// start a new one rather than silently no-op.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after exhaustion failed: %v", err)
	}
	defer s.Disconnect()

	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Status == domain.Connecting })
}

func TestSendFrameOverwriteCountsOneDrop(t *testing.T) {
	met := metrics.New()
	s := NewSocket(testConfig("ws://127.0.0.1:1/ws"), newChanHandler(), met)
	s.set(domain.Connected)

	// Nothing drains the outbox: the second frame overwrites the first,
	// which is one drop and no sends.
	s.SendFrame([]byte{0x01})
	s.SendFrame([]byte{0x02})

	if got := met.FramesDropped.Load(); got != 1 {
		t.Errorf("Expected 1 dropped frame on overwrite, got %d", got)
	}
	if got := met.FramesSent.Load(); got != 0 {
		t.Errorf("Expected 0 sent frames before a write completes, got %d", got)
	}
}

func TestSocketReconnectsAfterServerDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) == 1 {
			// First connection dies immediately.
			conn, err := websocket.Accept(w, r, nil)
			if err == nil {
				conn.CloseNow()
			}
			return
		}
		echoClassifier(t, wireMessage{Type: TypeFocusStatus, Status: "Focused"})(w, r)
	}))
	defer srv.Close()

	h := newChanHandler()
	s := NewSocket(testConfig(wsURL(srv)), h, metrics.New())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	// First Connected, then a drop, then Connected again.
	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Status == domain.Connected })
	h.waitFor(t, func(ev domain.ConnectionEvent) bool {
		return ev.Status == domain.Disconnected && !ev.Fatal
	})
	h.waitFor(t, func(ev domain.ConnectionEvent) bool { return ev.Status == domain.Connected })
}

func TestNewPicksPreferredTransport(t *testing.T) {
	h := newChanHandler()

	tr, err := New(Config{Endpoint: "ws://x/ws", Transports: []string{"streaming", "polling"}}, h, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := tr.(*Socket); !ok {
		t.Errorf("Expected streaming preference to yield *Socket, got %T", tr)
	}

	tr, err = New(Config{Endpoint: "ws://x/ws", Transports: []string{"polling"}}, h, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := tr.(*Poller); !ok {
		t.Errorf("Expected polling preference to yield *Poller, got %T", tr)
	}

	if _, err := New(Config{Endpoint: "ws://x/ws", Transports: []string{"carrier-pigeon"}}, h, nil); err == nil {
		t.Error("Expected error for unsupported transport list")
	}
}
