// Package chat drives the text chat modality: the message log, the single
// in-flight completion or transcription, and push-to-talk audio messages.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/lifecycle"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/protocol"
)

const (
	DefaultHistoryLimit      = 10
	DefaultCompletionTimeout = 60 * time.Second
)

// Completer produces the assistant reply for message given prior turns.
type Completer interface {
	Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error)
}

// Transcriber turns a finalized clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *audio.Clip) (string, error)
}

// Recorder captures push-to-talk clips. *audio.Capture satisfies it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.Clip, error)
	State() audio.State
	Close()
}

type Config struct {
	Persona           persona.Persona
	HistoryLimit      int
	CompletionTimeout time.Duration
}

type Option func(*Controller)

// WithChangeHook registers fn to run after every observable change.
func WithChangeHook(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRecorder enables audio messages.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithTranscriber sets the clip transcriber used by audio messages.
func WithTranscriber(t Transcriber) Option {
	return func(c *Controller) { c.transcriber = t }
}

type pendingRequest struct {
	op     string
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller owns the chat session. All methods are safe for concurrent use.
type Controller struct {
	completer   Completer
	transcriber Transcriber
	recorder    Recorder
	cfg         Config
	onChange    func()
	now         func() time.Time

	mu        sync.Mutex
	connected bool
	messages  []Message
	nextID    uint64
	pending   *pendingRequest
	lastErr   error
	clips     map[string]*audio.Clip

	deregister func()
}

// NewController builds a controller and registers its teardown in scope.
func NewController(completer Completer, cfg Config, scope *lifecycle.Scope, opts ...Option) *Controller {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.Persona.Name == "" {
		cfg.Persona = persona.Default()
	}
	c := &Controller{
		completer: completer,
		cfg:       cfg,
		now:       time.Now,
		clips:     make(map[string]*audio.Clip),
	}
	for _, opt := range opts {
		opt(c)
	}
	if scope != nil {
		c.deregister = scope.Register("chat session", c.Disconnect)
	}
	return c
}

// Connect starts a session with a fresh log holding only the greeting. It
// is a no-op when already connected.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.lastErr = nil
	c.releaseClipsLocked()
	c.messages = nil
	c.appendLocked(RoleAssistant, c.cfg.Persona.Greeting, KindText, "")
	c.mu.Unlock()
	c.changed()
	logger.Info("chat session connected")
}

// Disconnect cancels any pending request, stops a recording in progress,
// and clears the log, clips, loading flag and error. It is idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	wasIdle := !c.connected && c.pending == nil && len(c.messages) == 0 && c.lastErr == nil
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
	c.connected = false
	c.messages = nil
	c.lastErr = nil
	c.releaseClipsLocked()
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.Close()
	}
	if !wasIdle {
		c.changed()
		logger.Info("chat session disconnected")
	}
}

type sendOptions struct {
	kind     Kind
	audioRef string
}

type SendOption func(*sendOptions)

// WithAudio marks the message as the transcription of the stored clip id.
func WithAudio(clipID string) SendOption {
	return func(o *sendOptions) {
		o.kind = KindAudio
		o.audioRef = clipID
	}
}

// SendMessage appends content as a user message and waits for the reply.
// It fails with not_connected or busy, without touching state, when the
// session is down or a request is already in flight. A reply arriving after
// Abort or Disconnect is dropped.
func (c *Controller) SendMessage(ctx context.Context, content string, opts ...SendOption) error {
	o := sendOptions{kind: KindText}
	for _, opt := range opts {
		opt(&o)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return failure.New(failure.KindInvalidInput, "send message", "message is empty")
	}

	c.mu.Lock()
	if err := c.readyLocked("send message"); err != nil {
		c.mu.Unlock()
		return err
	}
	req, history := c.beginSendLocked(ctx, content, o)
	c.mu.Unlock()
	c.changed()

	return c.runCompletion(req, history, content)
}

func (c *Controller) readyLocked(op string) error {
	if !c.connected {
		return failure.New(failure.KindNotConnected, op, "chat session is not connected")
	}
	if c.pending != nil {
		return failure.New(failure.KindBusy, op, "a request is already in flight")
	}
	return nil
}

// beginSendLocked snapshots history before the optimistic user append, then
// appends and installs the pending token.
func (c *Controller) beginSendLocked(ctx context.Context, content string, o sendOptions) (*pendingRequest, []protocol.ChatTurn) {
	history := c.historyLocked()
	c.appendLocked(RoleUser, content, o.kind, o.audioRef)
	c.lastErr = nil
	req := c.newPendingLocked(ctx, "complete")
	return req, history
}

func (c *Controller) runCompletion(req *pendingRequest, history []protocol.ChatTurn, content string) error {
	started := time.Now()
	reply, err := c.completer.Complete(req.ctx, history, content)

	c.mu.Lock()
	if c.pending != req {
		c.mu.Unlock()
		req.cancel()
		logger.Debug("dropping superseded completion", "elapsed_ms", time.Since(started).Milliseconds())
		return failure.New(failure.KindCancelled, "send message", "request was cancelled")
	}
	c.pending = nil
	req.cancel()

	switch {
	case err == nil && strings.TrimSpace(reply) == "":
		err = failure.New(failure.KindEmptyResponse, "send message", "assistant returned no content")
		c.appendLocked(RoleAssistant, c.cfg.Persona.EmptyApology, KindText, "")
		c.lastErr = err
	case err == nil:
		c.appendLocked(RoleAssistant, reply, KindText, "")
	case failure.IsCancelled(err):
		// Caller went away; nothing to show.
	case failure.KindOf(err) == failure.KindEmptyResponse:
		c.appendLocked(RoleAssistant, c.cfg.Persona.EmptyApology, KindText, "")
		c.lastErr = err
	default:
		c.appendLocked(RoleAssistant, c.cfg.Persona.ErrorApology, KindText, "")
		c.lastErr = err
	}
	c.mu.Unlock()
	c.changed()

	if err != nil && !failure.IsCancelled(err) {
		logger.Warn("chat completion failed", "error", err, "elapsed_ms", time.Since(started).Milliseconds())
	}
	return err
}

// Abort cancels the in-flight request, if any. Its result is discarded.
func (c *Controller) Abort() {
	c.mu.Lock()
	req := c.pending
	c.pending = nil
	c.mu.Unlock()
	if req == nil {
		return
	}
	req.cancel()
	c.changed()
}

// ClearMessages empties the log and releases stored clips. The session
// stays connected.
func (c *Controller) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.releaseClipsLocked()
	c.mu.Unlock()
	c.changed()
}

// StartRecording begins a push-to-talk clip.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.recorder == nil || c.transcriber == nil {
		return failure.Wrap(failure.KindDevice, "start recording", audio.ErrDeviceUnavailable)
	}
	c.mu.Lock()
	if err := c.readyLocked("start recording"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := c.recorder.Start(ctx); err != nil {
		if !failure.IsCancelled(err) {
			c.setErr(err)
		}
		return err
	}
	c.changed()
	return nil
}

// StopRecordingAndSend finalizes the clip, transcribes it under the pending
// token, stores the clip and sends the text as an audio message. Clips that
// are too short are discarded without a transcription call.
func (c *Controller) StopRecordingAndSend(ctx context.Context) error {
	if c.recorder == nil || c.transcriber == nil {
		return failure.Wrap(failure.KindDevice, "stop recording", audio.ErrDeviceUnavailable)
	}

	clip, err := c.recorder.Stop()
	if err != nil {
		if failure.KindOf(err) != failure.KindInvalidInput {
			c.setErr(err)
		}
		return err
	}

	c.mu.Lock()
	if err := c.readyLocked("transcribe"); err != nil {
		c.mu.Unlock()
		clip.Release()
		return err
	}
	c.lastErr = nil
	req := c.newPendingLocked(ctx, "transcribe")
	c.mu.Unlock()
	c.changed()

	text, err := c.transcriber.Transcribe(req.ctx, clip)

	c.mu.Lock()
	if c.pending != req {
		c.mu.Unlock()
		req.cancel()
		clip.Release()
		return failure.New(failure.KindCancelled, "transcribe", "request was cancelled")
	}
	c.pending = nil
	req.cancel()

	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = failure.New(failure.KindEmptyResponse, "transcribe", c.cfg.Persona.TranscribeFailed)
	}
	if err != nil {
		if !failure.IsCancelled(err) {
			c.lastErr = err
		}
		c.mu.Unlock()
		clip.Release()
		c.changed()
		return err
	}

	c.clips[clip.ID] = clip
	sendReq, history := c.beginSendLocked(ctx, text, sendOptions{kind: KindAudio, audioRef: clip.ID})
	c.mu.Unlock()
	c.changed()

	return c.runCompletion(sendReq, history, text)
}

// Clip returns the stored clip referenced by an audio message.
func (c *Controller) Clip(id string) (*audio.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.clips[id]
	return clip, ok
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Messages returns a copy of the log in conversation order.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Status is a point-in-time view for presentation.
type Status struct {
	Connected bool
	Loading   bool
	Recording bool
	Error     string
	Messages  []Message
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Connected: c.connected,
		Loading:   c.pending != nil,
		Error:     failure.Describe(c.lastErr),
		Messages:  append([]Message(nil), c.messages...),
	}
	c.mu.Unlock()
	if c.recorder != nil {
		s := c.recorder.State()
		st.Recording = s == audio.StateRequesting || s == audio.StateRecording
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

func (c *Controller) newPendingLocked(parent context.Context, op string) *pendingRequest {
	ctx, cancel := context.WithTimeout(parent, c.cfg.CompletionTimeout)
	req := &pendingRequest{op: op, ctx: ctx, cancel: cancel}
	c.pending = req
	return req
}

func (c *Controller) historyLocked() []protocol.ChatTurn {
	msgs := c.messages
	if len(msgs) > c.cfg.HistoryLimit {
		msgs = msgs[len(msgs)-c.cfg.HistoryLimit:]
	}
	out := make([]protocol.ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.ChatTurn{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (c *Controller) appendLocked(role Role, content string, kind Kind, audioRef string) {
	c.nextID++
	c.messages = append(c.messages, Message{
		ID:        c.nextID,
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
		Kind:      kind,
		AudioRef:  audioRef,
	})
}

func (c *Controller) releaseClipsLocked() {
	for id, clip := range c.clips {
		clip.Release()
		delete(c.clips, id)
	}
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
