//go:build !cgo

package audio

import "errors"

// MalgoOutput needs cgo
type MalgoOutput struct{}

// NewMalgoOutput always fails without cgo
func NewMalgoOutput() (*MalgoOutput, error) {
	return nil, errors.New("malgo playback requires cgo")
}

func (o *MalgoOutput) Start(*Clip) error { return errors.New("malgo playback requires cgo") }
func (o *MalgoOutput) Halt() error       { return nil }
func (o *MalgoOutput) Close() error      { return nil }
