//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ent0n29/gaia/internal/logger"
)

const (
	portAudioSampleRate      = 24000
	portAudioFramesPerBuffer = 2400 // 100ms
)

// PortAudioDevice opens the system default input through PortAudio.
type PortAudioDevice struct {
	SampleRate int
}

// DefaultDevice returns the platform microphone.
func DefaultDevice() Device {
	return &PortAudioDevice{SampleRate: portAudioSampleRate}
}

func (d *PortAudioDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = portAudioSampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	in := make([]int16, portAudioFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(in), in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}

	s := &portAudioStream{
		stream: stream,
		in:     in,
		out:    make(chan []byte, 64),
		stop:   make(chan struct{}),
		format: Format{Encoding: EncodingPCM16LE, SampleRate: rate},
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func mapPortAudioError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

type portAudioStream struct {
	stream *portaudio.Stream
	in     []int16
	out    chan []byte
	stop   chan struct{}
	format Format
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func (s *portAudioStream) Chunks() <-chan []byte { return s.out }
func (s *portAudioStream) Format() Format        { return s.format }

func (s *portAudioStream) readLoop() {
	defer s.wg.Done()
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			select {
			case <-s.stop:
			default:
				logger.Warn("microphone read failed", "error", err)
			}
			return
		}
		buf := make([]byte, len(s.in)*2)
		for i, sample := range s.in {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
		}
		select {
		case s.out <- buf:
		case <-s.stop:
			return
		default:
			logger.Debug("microphone chunk dropped, consumer is behind")
		}
	}
}

func (s *portAudioStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if err := s.stream.Stop(); err != nil {
			s.err = err
		}
		s.wg.Wait()
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = err
		}
		_ = portaudio.Terminate()
	})
	return s.err
}
