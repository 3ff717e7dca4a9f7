// Package detector runs object detection on sampled frames.
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

var (
	// ErrDetectorFailure wraps any failed or malformed detection
	ErrDetectorFailure = errors.New("detector failure")
	// ErrNoResult means no fresh result exists for the frame
	ErrNoResult = errors.New("no detection result")
)

// Detector returns the objects found in a frame
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// Func adapts a function to the Detector interface
type Func func(ctx context.Context, frame *types.Frame) ([]types.Detection, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// Validate rejects results no real detector produces
func Validate(dets []types.Detection) error {
	for i, d := range dets {
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("%w: detection %d has confidence %v", ErrDetectorFailure, i, d.Confidence)
		}
		if d.ClassID < 0 {
			return fmt.Errorf("%w: detection %d has class id %d", ErrDetectorFailure, i, d.ClassID)
		}
	}
	return nil
}

func failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDetectorFailure, fmt.Sprintf(format, args...))
}
