package shm

import (
	"context"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// latestReader is the part of Reader the polling loop needs
type latestReader interface {
	ReadLatest() (*types.Frame, error)
	Close() error
}

// Source polls the ring buffer and yields each new frame once. H.264 rings
// yield IDRs only.
type Source struct {
	reader   latestReader
	interval time.Duration
	metrics  *metrics.Metrics
	h264     *h264.Processor

	lastFrameNum uint64
	seen         bool
}

func newSource(r latestReader, interval time.Duration, m *metrics.Metrics) *Source {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if m == nil {
		m = metrics.New()
	}
	return &Source{reader: r, interval: interval, metrics: m, h264: h264.NewProcessor()}
}

// Next blocks until a frame with a new frame number is available
func (s *Source) Next(ctx context.Context) (*types.Frame, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		frame, err := s.reader.ReadLatest()
		if err != nil {
			s.metrics.SourceErrors.Add(1)
			logger.Warn("Reader", "Read error: %v", err)
		} else if frame != nil && (!s.seen || frame.FrameNum != s.lastFrameNum) {
			s.seen = true
			s.lastFrameNum = frame.FrameNum
			if s.decodable(frame) {
				return frame, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Source) decodable(frame *types.Frame) bool {
	if frame.Format != types.FormatH264 {
		return true
	}
	return s.h264.Process(frame) == nil
}

// Close releases the shared memory mapping
func (s *Source) Close() error {
	return s.reader.Close()
}
