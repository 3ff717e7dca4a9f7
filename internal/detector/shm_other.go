//go:build !(linux && cgo)

package detector

import (
	"context"
	"errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// SHMDetector is only available on linux with cgo
type SHMDetector struct{}

// NewSHM always fails on this platform
func NewSHM(name string) (*SHMDetector, error) {
	return nil, errors.New("shared memory detector requires linux and cgo")
}

// Detect always fails on this platform
func (d *SHMDetector) Detect(context.Context, *types.Frame) ([]types.Detection, error) {
	return nil, ErrDetectorFailure
}

// Close does nothing
func (d *SHMDetector) Close() error { return nil }
