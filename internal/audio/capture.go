// Package audio owns microphone access for GAIA: the device abstraction,
// push-to-talk clip capture, and WAV framing of raw PCM.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/logger"
)

// DefaultMinClipBytes is the smallest clip worth transcribing.
const DefaultMinClipBytes = 1024

// ErrNotRecording is returned by Stop when no recording is in progress.
var ErrNotRecording = errors.New("not recording")

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Clip is a finalized recording.
type Clip struct {
	ID       string
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Release zeroes and drops the clip's bytes.
func (c *Clip) Release() {
	if c == nil {
		return
	}
	for i := range c.Data {
		c.Data[i] = 0
	}
	c.Data = nil
}

type CaptureOption func(*Capture)

// WithMinClipBytes overrides DefaultMinClipBytes.
func WithMinClipBytes(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.minClip = n
		}
	}
}

// WithChangeHook registers fn to run after every state transition.
func WithChangeHook(fn func()) CaptureOption {
	return func(c *Capture) { c.onChange = fn }
}

// Capture records one push-to-talk clip at a time.
type Capture struct {
	dev      Device
	minClip  int
	drain    time.Duration
	onChange func()

	mu        sync.Mutex
	state     State
	gen       uint64
	stream    Stream
	chunks    [][]byte
	startedAt time.Time
	done      chan struct{}
}

func NewCapture(dev Device, opts ...CaptureOption) *Capture {
	c := &Capture{
		dev:     dev,
		minClip: DefaultMinClipBytes,
		drain:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the microphone and begins buffering chunks. It is a no-op
// while a request or recording is already in progress.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRequesting, StateRecording:
		c.mu.Unlock()
		return nil
	case StateFinalizing:
		c.mu.Unlock()
		return failure.New(failure.KindBusy, "start capture", "previous clip is still finalizing")
	}
	c.gen++
	gen := c.gen
	c.state = StateRequesting
	c.mu.Unlock()
	c.changed()

	stream, err := c.dev.Open(ctx)

	c.mu.Lock()
	if c.gen != gen {
		// Close ran while the device request was pending.
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return failure.New(failure.KindCancelled, "start capture", "capture closed while requesting device")
	}
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		c.changed()
		return classifyDeviceError(err)
	}
	c.state = StateRecording
	c.stream = stream
	c.chunks = nil
	c.startedAt = time.Now()
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()
	c.changed()

	go c.collect(gen, stream, done)
	return nil
}

func (c *Capture) collect(gen uint64, stream Stream, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		c.mu.Lock()
		if c.gen == gen {
			c.chunks = append(c.chunks, buf)
		}
		c.mu.Unlock()
	}
}

// Stop finalizes the recording into a Clip. The microphone is released
// before assembly, whatever the outcome.
func (c *Capture) Stop() (*Clip, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil, failure.Wrap(failure.KindInvalidInput, "stop capture", ErrNotRecording)
	}
	c.state = StateFinalizing
	gen := c.gen
	stream := c.stream
	done := c.done
	started := c.startedAt
	c.stream = nil
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateIdle
			c.chunks = nil
		}
		c.mu.Unlock()
		c.changed()
	}()

	format := stream.Format()
	if err := stream.Close(); err != nil {
		logger.Warn("microphone release reported an error", "error", err)
	}
	select {
	case <-done:
	case <-time.After(c.drain):
		logger.Warn("microphone stream did not drain in time")
	}

	c.mu.Lock()
	size := 0
	for _, ch := range c.chunks {
		size += len(ch)
	}
	data := make([]byte, 0, size)
	for _, ch := range c.chunks {
		data = append(data, ch...)
	}
	c.mu.Unlock()

	if len(data) < c.minClip {
		return nil, failure.New(failure.KindClipTooShort, "stop capture",
			fmt.Sprintf("clip has %d bytes, need at least %d", len(data), c.minClip))
	}

	clip := &Clip{ID: uuid.NewString(), MimeType: format.MimeType()}
	if format.IsPCM() {
		wav, err := EncodeWAVPCM16LE(data, format.SampleRate)
		if err != nil {
			return nil, failure.Wrap(failure.KindDevice, "encode clip", err)
		}
		clip.Data = wav
		clip.Duration = PCMDuration(len(data), format.SampleRate)
	} else {
		clip.Data = data
		clip.Duration = time.Since(started)
	}
	return clip, nil
}

// Close abandons any pending request or recording and releases the device.
func (c *Capture) Close() {
	c.mu.Lock()
	c.gen++
	stream := c.stream
	c.stream = nil
	c.chunks = nil
	wasIdle := c.state == StateIdle
	c.state = StateIdle
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Warn("microphone release reported an error", "error", err)
		}
	}
	if !wasIdle {
		c.changed()
	}
}

func (c *Capture) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func classifyDeviceError(err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure.FromContext("start capture", err)
	}
	return failure.Wrap(failure.KindDevice, "start capture", err)
}
