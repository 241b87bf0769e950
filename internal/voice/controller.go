// Package voice drives the realtime voice modality: minting a credential,
// opening the realtime session, the listening sub-state and teardown.
package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/lifecycle"
	"github.com/ent0n29/gaia/internal/logger"
)

// DefaultConnectTimeout bounds mint plus dial.
const DefaultConnectTimeout = 15 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view for presentation.
type Status struct {
	State      State
	Listening  bool
	HandleID   string
	Error      string
	Transcript string
}

// Active reports whether the session is connecting or connected.
func (s Status) Active() bool {
	return s.State == StateConnecting || s.State == StateConnected
}

type Option func(*Controller)

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithChangeHook registers fn to run after every observable change.
func WithChangeHook(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller owns the voice session. All methods are safe for concurrent use.
type Controller struct {
	minter   Minter
	dialer   Dialer
	timeout  time.Duration
	onChange func()

	mu            sync.Mutex
	state         State
	gen           uint64
	handle        *Handle
	conn          Conn
	listening     bool
	lastErr       error
	transcript    string
	cancelConnect context.CancelFunc

	deregister func()
}

// NewController builds a controller and registers its teardown in scope.
func NewController(minter Minter, dialer Dialer, scope *lifecycle.Scope, opts ...Option) *Controller {
	c := &Controller{
		minter:  minter,
		dialer:  dialer,
		timeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if scope != nil {
		c.deregister = scope.Register("voice session", c.Disconnect)
	}
	return c
}

// ConnectAsync moves to Connecting before returning and finishes the remote
// part in the background. The channel yields the outcome once. Calling it
// while connecting or connected is a no-op that yields nil.
func (c *Controller) ConnectAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		out <- nil
		close(out)
		return out
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.lastErr = nil
	c.transcript = ""
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.cancelConnect = cancel
	c.mu.Unlock()
	c.changed()

	go func() {
		defer cancel()
		out <- c.connect(cctx, gen)
		close(out)
	}()
	return out
}

// Connect is ConnectAsync followed by waiting for the outcome.
func (c *Controller) Connect(ctx context.Context) error {
	return <-c.ConnectAsync(ctx)
}

func (c *Controller) connect(ctx context.Context, gen uint64) error {
	cred, err := c.minter.Mint(ctx)
	if err != nil {
		return c.fail(gen, classify(ctx, "mint credential", err))
	}

	h := Handle{ID: uuid.NewString(), OpenedAt: time.Now().UTC()}
	conn, err := c.dialer.Dial(ctx, cred, h)
	cred.Secret = ""
	if err != nil {
		return c.fail(gen, classify(ctx, "open realtime session", err))
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnected while the dial was in flight.
		c.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("closing superseded realtime session failed", "handle", h.ID, "error", cerr)
		}
		return failure.New(failure.KindCancelled, "connect voice", "superseded by disconnect")
	}
	c.state = StateConnected
	c.handle = &h
	c.conn = conn
	c.cancelConnect = nil
	c.mu.Unlock()
	c.changed()

	logger.Info("voice session connected", "handle", h.ID)
	go c.watch(conn, gen)
	return nil
}

func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return err
	}
	c.state = StateDisconnected
	c.handle = nil
	c.conn = nil
	c.listening = false
	c.cancelConnect = nil
	if !failure.IsCancelled(err) {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.changed()

	if !failure.IsCancelled(err) {
		logger.Warn("voice connect failed", "error", err)
	}
	return err
}

// watch tears local state down when the remote side ends the session.
func (c *Controller) watch(conn Conn, gen uint64) {
	<-conn.Done()

	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StateDisconnected
	c.handle = nil
	c.conn = nil
	c.listening = false
	cause := conn.Err()
	if cause != nil {
		c.lastErr = failure.Wrap(failure.KindUpstreamUnavailable, "realtime session", cause)
	} else {
		c.lastErr = failure.New(failure.KindUpstreamUnavailable, "realtime session", "session closed by server")
	}
	c.mu.Unlock()
	c.changed()

	logger.Warn("voice session dropped", "error", cause)
	_ = conn.Close()
}

// Disconnect is idempotent. It cancels an in-flight connect, always clears
// local state, and closes the remote session best-effort.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	wasIdle := c.state == StateDisconnected && c.lastErr == nil
	c.gen++
	cancel := c.cancelConnect
	conn := c.conn
	handle := c.handle
	c.cancelConnect = nil
	c.conn = nil
	c.handle = nil
	c.state = StateDisconnected
	c.listening = false
	c.lastErr = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warn("closing realtime session failed", "handle", handle.ID, "error", err)
		} else {
			logger.Info("voice session disconnected", "handle", handle.ID)
		}
	}
	if !wasIdle {
		c.changed()
	}
}

// StartListening opens the microphone on the live session.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return failure.New(failure.KindNotConnected, "start listening", "voice session is not connected")
	}
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.StartListening(ctx); err != nil {
		err = classify(ctx, "start listening", err)
		c.mu.Lock()
		if c.conn == conn {
			c.lastErr = err
		}
		c.mu.Unlock()
		c.changed()
		return err
	}

	c.mu.Lock()
	if c.conn == conn {
		c.listening = true
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// StopListening releases the microphone and asks the session to respond.
func (c *Controller) StopListening(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return failure.New(failure.KindNotConnected, "stop listening", "voice session is not connected")
	}
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.listening = false
	c.mu.Unlock()
	c.changed()

	if err := conn.StopListening(ctx); err != nil {
		return classify(ctx, "stop listening", err)
	}
	return nil
}

// RecordTranscript stores the latest assistant transcript for display.
func (c *Controller) RecordTranscript(text string) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.transcript = text
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:      c.state,
		Listening:  c.listening,
		Error:      failure.Describe(c.lastErr),
		Transcript: c.transcript,
	}
	if c.handle != nil {
		st.HandleID = c.handle.ID
	}
	return st
}

// Err returns the last recorded failure, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close disconnects and removes the teardown hook.
func (c *Controller) Close() {
	if c.deregister != nil {
		c.deregister()
	}
	c.Disconnect()
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func classify(ctx context.Context, op string, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure.FromContext(op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure.FromContext(op, err)
	}
	return failure.Wrap(failure.KindUpstreamUnavailable, op, err)
}
