//go:build !(linux && cgo)

package shm

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
)

// ErrUnsupported is returned where shared memory is not available
var ErrUnsupported = errors.New("shm: shared memory source requires linux and cgo")

// Open is not supported on this platform
func Open(ctx context.Context, shmName string, pollInterval time.Duration, m *metrics.Metrics) (*Source, error) {
	return nil, ErrUnsupported
}
