//go:build !linux

package audio

import "errors"

// PulseOutput is only available on linux
type PulseOutput struct{}

// NewPulseOutput always fails on this platform
func NewPulseOutput() (*PulseOutput, error) {
	return nil, errors.New("pulseaudio playback is only supported on linux")
}

func (o *PulseOutput) Start(*Clip) error {
	return errors.New("pulseaudio playback is only supported on linux")
}
func (o *PulseOutput) Halt() error  { return nil }
func (o *PulseOutput) Close() error { return nil }
