//go:build !portaudio

package audio

import "context"

// DefaultDevice returns the platform microphone. Builds without the
// portaudio tag have none.
func DefaultDevice() Device {
	return unavailableDevice{}
}

type unavailableDevice struct{}

func (unavailableDevice) Open(context.Context) (Stream, error) {
	return nil, ErrDeviceUnavailable
}
