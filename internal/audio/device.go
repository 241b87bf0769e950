package audio

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no microphone available")
	ErrDeviceBusy        = errors.New("microphone already in use")
)

// EncodingPCM16LE marks a stream of raw little-endian 16-bit mono samples.
// Any other encoding is treated as an opaque container (for example
// "audio/webm") and passed through unchanged.
const EncodingPCM16LE = "pcm16le"

// Format describes the chunks a Stream produces.
type Format struct {
	Encoding   string
	SampleRate int
}

func (f Format) IsPCM() bool { return f.Encoding == EncodingPCM16LE }

// MimeType is the content type of an assembled clip in this format.
func (f Format) MimeType() string {
	if f.IsPCM() {
		return "audio/wav"
	}
	if f.Encoding == "" {
		return "application/octet-stream"
	}
	return f.Encoding
}

// Stream is an open microphone. Close stops capture, releases the hardware
// and closes the Chunks channel.
type Stream interface {
	Chunks() <-chan []byte
	Format() Format
	Close() error
}

// Device acquires microphone streams. Open blocks until the platform grants
// or denies access.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Exclusive wraps a Device so at most one Stream is open at any time.
// Opening while another holder is active fails with ErrDeviceBusy.
type Exclusive struct {
	dev  Device
	mu   sync.Mutex
	held bool
}

func NewExclusive(dev Device) *Exclusive {
	return &Exclusive{dev: dev}
}

func (e *Exclusive) Open(ctx context.Context) (Stream, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	e.held = true
	e.mu.Unlock()

	s, err := e.dev.Open(ctx)
	if err != nil {
		e.release()
		return nil, err
	}
	return &exclusiveStream{Stream: s, release: e.release}, nil
}

// Held reports whether a stream is currently open.
func (e *Exclusive) Held() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type exclusiveStream struct {
	Stream
	once    sync.Once
	release func()
	err     error
}

func (s *exclusiveStream) Close() error {
	s.once.Do(func() {
		s.err = s.Stream.Close()
		s.release()
	})
	return s.err
}
