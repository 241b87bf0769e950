package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/gaia/internal/failure"
)

type fakeStream struct {
	ch     chan []byte
	format Format
	once   sync.Once
	closed chan struct{}
}

func newFakeStream(format Format) *fakeStream {
	return &fakeStream{ch: make(chan []byte, 64), format: format, closed: make(chan struct{})}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.ch }
func (s *fakeStream) Format() Format        { return s.format }
func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.ch)
		close(s.closed)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	format  Format
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream(d.format)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func TestCaptureRecordsPCMAsWAV(t *testing.T) {
	dev := &fakeDevice{format: Format{Encoding: EncodingPCM16LE, SampleRate: 16000}}
	c := NewCapture(dev)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRecording, c.State())

	s := dev.last()
	s.ch <- bytes.Repeat([]byte{1}, 16000)
	s.ch <- bytes.Repeat([]byte{2}, 16000)

	clip, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, s.isClosed(), "device must be released on stop")
	assert.Equal(t, "audio/wav", clip.MimeType)
	assert.Equal(t, 44+32000, len(clip.Data))
	assert.Equal(t, "RIFF", string(clip.Data[:4]))
	assert.Equal(t, time.Second, clip.Duration)
	assert.NotEmpty(t, clip.ID)
	// Chunks keep arrival order.
	assert.Equal(t, byte(1), clip.Data[44])
	assert.Equal(t, byte(2), clip.Data[len(clip.Data)-1])
}

func TestCaptureStartIsNoOpWhileRecording(t *testing.T) {
	dev := &fakeDevice{format: Format{Encoding: "audio/webm"}}
	c := NewCapture(dev)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, dev.opened())
	c.Close()
}

func TestCaptureClipTooShortStillReleasesDevice(t *testing.T) {
	dev := &fakeDevice{format: Format{Encoding: "audio/webm"}}
	c := NewCapture(dev)

	require.NoError(t, c.Start(context.Background()))
	dev.last().ch <- []byte("tiny")

	clip, err := c.Stop()
	assert.Nil(t, clip)
	assert.True(t, errors.Is(err, failure.ErrClipTooShort), "err = %v", err)
	assert.True(t, dev.last().isClosed())
	assert.Equal(t, StateIdle, c.State())
}

func TestCaptureStopWhenNotRecording(t *testing.T) {
	c := NewCapture(&fakeDevice{})
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestCaptureDeviceErrors(t *testing.T) {
	for _, devErr := range []error{ErrPermissionDenied, ErrDeviceUnavailable} {
		c := NewCapture(&fakeDevice{err: devErr})
		err := c.Start(context.Background())
		assert.ErrorIs(t, err, devErr)
		assert.True(t, errors.Is(err, failure.ErrDevice), "err = %v", err)
		assert.Equal(t, StateIdle, c.State())
	}
}

func TestCaptureCloseDuringRequestReleasesLateStream(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), format: Format{Encoding: EncodingPCM16LE}}
	c := NewCapture(dev)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateRequesting }, time.Second, 5*time.Millisecond)
	c.Close()
	close(dev.gate)

	err := <-errCh
	assert.True(t, failure.IsCancelled(err), "err = %v", err)
	assert.True(t, dev.last().isClosed(), "late stream must be released")
	assert.Equal(t, StateIdle, c.State())
}

func TestExclusiveRejectsSecondHolder(t *testing.T) {
	mic := NewExclusive(&fakeDevice{format: Format{Encoding: EncodingPCM16LE}})

	s1, err := mic.Open(context.Background())
	require.NoError(t, err)
	_, err = mic.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	assert.False(t, mic.Held())

	s2, err := mic.Open(context.Background())
	require.NoError(t, err)
	_ = s2.Close()
}

func TestExclusiveReleasesOnOpenFailure(t *testing.T) {
	mic := NewExclusive(&fakeDevice{err: ErrPermissionDenied})
	_, err := mic.Open(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, mic.Held())
}

func TestClipRelease(t *testing.T) {
	data := []byte{1, 2, 3}
	clip := &Clip{Data: data}
	clip.Release()
	assert.Nil(t, clip.Data)
	assert.Equal(t, []byte{0, 0, 0}, data)
}
