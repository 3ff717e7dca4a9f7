// Package counter turns a stream of frames into a smoothed person count.
package counter

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/smoothing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// ErrStreamEnded is returned by Run when the frame source reports io.EOF
var ErrStreamEnded = errors.New("frame stream ended")

// FrameSource delivers video frames. Next blocks until a frame is available
// and returns io.EOF when the stream has ended.
type FrameSource interface {
	Next(ctx context.Context) (*types.Frame, error)
}

// Config tunes the producer loop
type Config struct {
	Subsample     int           // detect on every Nth frame
	MinConfidence float64       // detections below this are ignored
	DetectRate    float64       // max detector calls per second, 0 = unlimited
	RetryBackoff  time.Duration // pause after a frame source error
}

// DefaultConfig returns the producer defaults
func DefaultConfig() Config {
	return Config{
		Subsample:     2,
		MinConfidence: 0.4,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// Producer reads frames, runs detection on sampled ones and publishes the
// median-filtered count into a Cell. It owns the Filter.
type Producer struct {
	cfg      Config
	source   FrameSource
	detector detector.Detector
	filter   *smoothing.Filter
	cell     *Cell
	metrics  *metrics.Metrics
	limiter  *rate.Limiter

	frames  uint64
	history atomic.Pointer[[]int]
}

// NewProducer creates a Producer. metrics may be nil.
func NewProducer(cfg Config, source FrameSource, det detector.Detector, filter *smoothing.Filter, cell *Cell, m *metrics.Metrics) *Producer {
	if cfg.Subsample < 1 {
		cfg.Subsample = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if m == nil {
		m = metrics.New()
	}

	p := &Producer{
		cfg:      cfg,
		source:   source,
		detector: det,
		filter:   filter,
		cell:     cell,
		metrics:  m,
	}
	if cfg.DetectRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.DetectRate), 1)
	}
	empty := []int{}
	p.history.Store(&empty)
	return p
}

// History returns the filter window as of the latest sample, oldest first.
// Safe to call from any goroutine.
func (p *Producer) History() []int {
	return append([]int(nil), (*p.history.Load())...)
}

// Run processes frames until the source ends or ctx is cancelled. It returns
// ErrStreamEnded in the first case and nil in the second.
func (p *Producer) Run(ctx context.Context) error {
	logger.Info("Producer", "Started (subsample=%d, min_confidence=%.2f)", p.cfg.Subsample, p.cfg.MinConfidence)
	defer logger.Info("Producer", "Stopped after %d frames", p.frames)

	for {
		frame, err := p.source.Next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			logger.Info("Producer", "Frame source ended")
			return ErrStreamEnded
		}
		if err != nil {
			p.metrics.SourceErrors.Add(1)
			logger.Warn("Producer", "Frame source error: %v", err)
			if !sleep(ctx, p.cfg.RetryBackoff) {
				return nil
			}
			continue
		}
		if frame == nil {
			continue
		}

		p.frames++
		p.metrics.FramesRead.Add(1)
		if p.frames%uint64(p.cfg.Subsample) != 0 {
			continue
		}
		if p.limiter != nil && !p.limiter.Allow() {
			continue
		}

		p.process(ctx, frame)
	}
}

func (p *Producer) process(ctx context.Context, frame *types.Frame) {
	p.metrics.FramesSampled.Add(1)

	start := time.Now()
	dets, err := p.detector.Detect(ctx, frame)
	p.metrics.UpdateDetectLatency(time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.SamplesDropped.Add(1)
		if errors.Is(err, detector.ErrNoResult) {
			logger.Debug("Producer", "No detection result for frame #%d", frame.FrameNum)
			return
		}
		p.metrics.DetectorErrors.Add(1)
		logger.Warn("Producer", "Detection failed for frame #%d: %v", frame.FrameNum, err)
		return
	}

	raw := types.ClampCount(types.CountPersons(dets, p.cfg.MinConfidence))
	stable := p.filter.Update(raw)
	p.cell.Store(stable)

	history := p.filter.History()
	p.history.Store(&history)
	p.metrics.RecordSample(raw, stable, time.Now())

	logger.Debug("Producer", "Frame #%d: raw=%d stable=%d history=%v", frame.FrameNum, raw, stable, history)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
