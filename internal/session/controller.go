// Package session implements the focus tracking session controller.
//
// The controller owns the session lifecycle (idle -> running -> idle) and
// the two time accumulators. It is a state reducer driven by classification
// events from the transport, connection lifecycle events, and an internal
// integration ticker; it performs no I/O of its own.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ehab20011/computer-vision/internal/domain"
	"github.com/ehab20011/computer-vision/internal/metrics"
	"github.com/google/uuid"
)

const (
	statusStopped      = "Session stopped"
	statusStarted      = "Focused"
	statusConnected    = "Connected to classification service"
	statusDisconnected = "Disconnected from classification service"
	statusGaveUp       = "Connection lost - reconnection attempts exhausted"
)

// FrameLoop is the sampling loop armed while a session runs.
type FrameLoop interface {
	Start()
	Stop()
}

// Transport is the connection surface the controller controls. The
// controller never touches the connection itself; it only requests
// establishment and teardown.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Snapshot is a read-only view of controller state for the presentation
// layer.
type Snapshot struct {
	SessionID         string     `json:"session_id,omitempty"`
	State             string     `json:"state"`
	Status            string     `json:"status"`
	Distracted        bool       `json:"distracted"`
	FocusedSeconds    float64    `json:"focused_seconds"`
	DistractedSeconds float64    `json:"distracted_seconds"`
	Connected         bool       `json:"connected"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
}

// Controller owns exactly one session and its accumulators.
//
// All mutation happens under a single mutex taken by every entry point
// (commands, transport callbacks, integration ticks), so events are
// applied one at a time in arrival order.
type Controller struct {
	// cmdMu serializes Start and Stop end to end, collaborator arming
	// included, so a Stop can never land between a Start's state change
	// and its loop arming.
	cmdMu sync.Mutex

	mu      sync.Mutex
	session domain.Session
	label   domain.Label
	times   domain.Accumulators
	// lastTick is the base of the open integration window. Elapsed time
	// since lastTick belongs to the current label but has not yet been
	// credited.
	lastTick time.Time
	status   string
	conn     domain.ConnectionStatus
	// gen counts Start/Stop transitions; the asynchronous fatal teardown
	// checks it to detect a command that has superseded it.
	gen uint64

	now          func() time.Time
	tickInterval time.Duration
	stopOnFatal  bool

	loop      FrameLoop
	transport Transport
	met       *metrics.Metrics

	cancelTick context.CancelFunc
	tickDone   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithFrameLoop attaches the sampling loop armed on start and released on
// stop.
func WithFrameLoop(loop FrameLoop) Option {
	return func(c *Controller) { c.loop = loop }
}

// WithTransport attaches the transport whose lifetime is scoped to the
// session.
func WithTransport(t Transport) Option {
	return func(c *Controller) { c.transport = t }
}

// WithTickInterval sets the integration ticker granularity. Zero disables
// the ticker; accumulators then flush only on classification events and
// stop (snapshots still include the open interval as a view).
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.tickInterval = d }
}

// WithStopOnFatal controls whether reconnect exhaustion ends the session.
func WithStopOnFatal(stop bool) Option {
	return func(c *Controller) { c.stopOnFatal = stop }
}

// WithMetrics attaches instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.met = m }
}

// Attach wires the transport and frame loop after construction. The
// transport needs the controller as its event handler, so it cannot exist
// before the controller does; Attach closes the cycle.
func (c *Controller) Attach(t Transport, loop FrameLoop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
	c.loop = loop
}

// New creates an idle controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		now:          time.Now,
		tickInterval: 10 * time.Millisecond,
		stopOnFatal:  true,
		status:       statusStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a new session: both accumulators reset to zero, state moves
// to Running, and elapsed time accrues to the focused label until the first
// classification arrives. Calling Start while already running simply resets
// again.
func (c *Controller) Start() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	now := c.now()
	c.session = domain.Session{
		ID:        uuid.NewString(),
		State:     domain.StateRunning,
		StartedAt: now,
	}
	c.times = domain.Accumulators{}
	c.label = domain.LabelFocused
	c.lastTick = now
	c.status = statusStarted
	c.gen++
	id := c.session.ID
	startTicker := c.cancelTick == nil && c.tickInterval > 0
	if startTicker {
		var ctx context.Context
		ctx, c.cancelTick = context.WithCancel(context.Background())
		c.tickDone = make(chan struct{})
		go c.tickLoop(ctx, c.tickDone)
	}
	c.mu.Unlock()

	if c.met != nil {
		c.met.SessionActive.Store(1)
		c.met.FocusedSeconds.Store(0)
		c.met.DistractedSeconds.Store(0)
	}
	if c.transport != nil {
		if err := c.transport.Connect(context.Background()); err != nil {
			slog.Warn("Transport connect failed", "error", err)
		}
	}
	if c.loop != nil {
		c.loop.Start()
	}
	slog.Info("Session started", "session_id", id)
}

// Stop ends the session, preserving the accumulator values computed so
// far. The sampling loop, the integration ticker, and the transport are
// released together. Stop while idle is a no-op.
func (c *Controller) Stop() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.session.State != domain.StateRunning {
		c.mu.Unlock()
		return
	}
	c.flushLocked(c.now())
	c.session.State = domain.StateIdle
	c.session.StartedAt = time.Time{}
	c.status = statusStopped
	c.gen++
	id := c.session.ID
	times := c.times
	cancel, done := c.cancelTick, c.tickDone
	c.cancelTick, c.tickDone = nil, nil
	c.mu.Unlock()

	c.releaseScope(cancel, done)
	if c.met != nil {
		c.met.SessionActive.Store(0)
	}
	slog.Info("Session stopped", "session_id", id,
		"focused", times.Focused, "distracted", times.Distracted)
}

// releaseScope tears down the session's scoped resources: integration
// ticker, frame loop, transport.
func (c *Controller) releaseScope(cancel context.CancelFunc, done chan struct{}) {
	if cancel != nil {
		cancel()
		<-done
	}
	if c.loop != nil {
		c.loop.Stop()
	}
	if c.transport != nil {
		c.transport.Disconnect()
	}
}

// OnClassification consumes an inbound classification event. The elapsed
// interval since the previous tick is credited to the label that was in
// effect during that interval, then the label switches and the window
// rebases. Events received while idle are discarded.
func (c *Controller) OnClassification(status string) {
	c.mu.Lock()
	if c.session.State != domain.StateRunning {
		c.mu.Unlock()
		return
	}
	c.flushLocked(c.now())
	c.label = domain.ParseLabel(status)
	c.status = status
	c.mu.Unlock()

	if c.met != nil {
		c.met.Classifications.Add(1)
	}
	slog.Debug("Classification received", "status", status)
}

// OnServiceError consumes a frame-processing error reported by the
// service. It updates the status label for the cycle; the current label
// keeps accruing until a new classification arrives.
func (c *Controller) OnServiceError(msg string) {
	c.mu.Lock()
	c.status = "Service error: " + msg
	c.mu.Unlock()

	if c.met != nil {
		c.met.ServiceErrors.Add(1)
	}
	slog.Warn("Service reported processing error", "error", msg)
}

// OnConnectionEvent consumes a transport lifecycle event. Accumulation is
// gated on the connection: the open interval is flushed under the previous
// connection state, so time spent disconnected is never credited.
func (c *Controller) OnConnectionEvent(ev domain.ConnectionEvent) {
	c.mu.Lock()
	if c.session.State == domain.StateRunning {
		c.flushLocked(c.now())
	}
	c.conn = ev.Status

	var cancel context.CancelFunc
	var done chan struct{}
	var gen uint64
	fatalStop := false
	switch {
	case ev.Fatal:
		c.status = statusGaveUp
		if c.session.State == domain.StateRunning && c.stopOnFatal {
			c.session.State = domain.StateIdle
			c.session.StartedAt = time.Time{}
			c.gen++
			gen = c.gen
			cancel, done = c.cancelTick, c.tickDone
			c.cancelTick, c.tickDone = nil, nil
			fatalStop = true
		}
	case ev.Err != nil:
		c.status = "Connection error: " + ev.Err.Error()
	case ev.Status == domain.Connected:
		c.status = statusConnected
	case ev.Status == domain.Disconnected:
		c.status = statusDisconnected
	}
	c.mu.Unlock()

	if c.met != nil {
		c.met.ConnectionState.Store(uint64(ev.Status))
	}
	if fatalStop {
		slog.Error("Session ended by fatal transport failure", "error", ev.Err)
		// The transport reports exhaustion from its own goroutine and has
		// already released its connection scope; only the controller's
		// side of the scope remains. The teardown runs detached because
		// cmdMu may be held by a Stop that is waiting on that goroutine.
		go c.fatalTeardown(gen, cancel, done)
	}
}

// fatalTeardown releases the session scope after reconnect exhaustion. A
// Start or Stop issued after the fatal event owns the collaborators by
// then, so the teardown backs off when the generation has moved on.
func (c *Controller) fatalTeardown(gen uint64, cancel context.CancelFunc, done chan struct{}) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}

	if c.loop != nil {
		c.loop.Stop()
	}
	if c.met != nil {
		c.met.SessionActive.Store(0)
	}
}

// Snapshot returns the current observable state, including the not yet
// flushed part of the open interval for the current label.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	times := c.times
	if c.session.State == domain.StateRunning && c.conn == domain.Connected {
		times.Add(c.label, c.now().Sub(c.lastTick))
	}

	snap := Snapshot{
		State:             c.session.State.String(),
		Status:            c.status,
		Distracted:        c.label == domain.LabelDistracted,
		FocusedSeconds:    times.Focused.Seconds(),
		DistractedSeconds: times.Distracted.Seconds(),
		Connected:         c.conn == domain.Connected,
	}
	if c.session.State == domain.StateRunning {
		snap.SessionID = c.session.ID
		started := c.session.StartedAt
		snap.StartedAt = &started
	}
	return snap
}

// SnapshotTimes returns only the accumulator values.
func (c *Controller) SnapshotTimes() domain.Accumulators {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.times
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State == domain.StateRunning
}

// flushLocked credits the open interval to the current label and rebases
// the integration window. While the transport is not connected the
// interval is discarded: classification results cannot arrive, so the
// elapsed time is not attributable to either label. Callers must hold mu.
func (c *Controller) flushLocked(now time.Time) {
	if c.conn == domain.Connected {
		c.times.Add(c.label, now.Sub(c.lastTick))
		if c.met != nil {
			c.met.FocusedSeconds.Store(uint64(c.times.Focused.Milliseconds()))
			c.met.DistractedSeconds.Store(uint64(c.times.Distracted.Milliseconds()))
		}
	}
	c.lastTick = now
}

// tickLoop is the integration timer: it periodically flushes the open
// interval so observers see smoothly advancing accumulators. It uses the
// same flush-then-rebase rule as classification arrival, so no interval is
// ever counted twice.
func (c *Controller) tickLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.session.State == domain.StateRunning {
				c.flushLocked(c.now())
			}
			c.mu.Unlock()
		}
	}
}
