package counter

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/smoothing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedSource replays frames and then either ends or returns the given
// errors in order.
type scriptedSource struct {
	mu     sync.Mutex
	frames []*types.Frame
	errs   []error
}

func (s *scriptedSource) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func frames(n int) []*types.Frame {
	out := make([]*types.Frame, n)
	for i := range out {
		out[i] = &types.Frame{Data: []byte{1}, Format: types.FormatJPEG, FrameNum: uint64(i + 1)}
	}
	return out
}

func persons(n int) []types.Detection {
	dets := make([]types.Detection, n)
	for i := range dets {
		dets[i] = types.Detection{ClassID: types.PersonClassID, ClassName: "person", Confidence: 0.9}
	}
	return dets
}

// countsByFrame answers each frame number with a fixed person count
func countsByFrame(counts map[uint64]int, seen *[]uint64) detector.Detector {
	return detector.Func(func(ctx context.Context, f *types.Frame) ([]types.Detection, error) {
		*seen = append(*seen, f.FrameNum)
		return persons(counts[f.FrameNum]), nil
	})
}

func newFilter(t *testing.T, capacity int) *smoothing.Filter {
	t.Helper()
	f, err := smoothing.New(capacity)
	require.NoError(t, err)
	return f
}

func TestProducerSubsamplesAndSmooths(t *testing.T) {
	var seen []uint64
	det := countsByFrame(map[uint64]int{2: 0, 4: 5, 6: 0, 8: 5, 10: 0}, &seen)
	cell := &Cell{}
	m := metrics.New()

	p := NewProducer(Config{Subsample: 2, MinConfidence: 0.4}, &scriptedSource{frames: frames(10)}, det, newFilter(t, 3), cell, m)
	require.ErrorIs(t, p.Run(context.Background()), ErrStreamEnded)

	assert.Equal(t, []uint64{2, 4, 6, 8, 10}, seen, "every second frame is detected")
	count, seq := cell.Load()
	assert.Equal(t, 0, count)
	assert.Equal(t, uint64(5), seq)
	assert.Equal(t, []int{0, 5, 0}, p.History())

	s := m.Snapshot()
	assert.Equal(t, uint64(10), s.FramesRead)
	assert.Equal(t, uint64(5), s.FramesSampled)
	assert.Equal(t, uint64(5), s.SamplesCounted)
}

func TestProducerClampsAndFiltersConfidence(t *testing.T) {
	det := detector.Func(func(ctx context.Context, f *types.Frame) ([]types.Detection, error) {
		dets := persons(8)
		dets = append(dets, types.Detection{ClassName: "dog", Confidence: 0.99})
		return dets, nil
	})
	cell := &Cell{}
	p := NewProducer(Config{Subsample: 1, MinConfidence: 0.4}, &scriptedSource{frames: frames(1)}, det, newFilter(t, 1), cell, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrStreamEnded)

	count, _ := cell.Load()
	assert.Equal(t, types.MaxCount, count)
}

func TestProducerDropsFailedSamples(t *testing.T) {
	calls := 0
	det := detector.Func(func(ctx context.Context, f *types.Frame) ([]types.Detection, error) {
		calls++
		switch calls {
		case 1:
			return persons(2), nil
		case 2:
			return nil, detector.ErrNoResult
		case 3:
			return nil, errors.Join(detector.ErrDetectorFailure, errors.New("timeout"))
		default:
			return persons(2), nil
		}
	})
	cell := &Cell{}
	m := metrics.New()
	p := NewProducer(Config{Subsample: 1}, &scriptedSource{frames: frames(4)}, det, newFilter(t, 5), cell, m)
	require.ErrorIs(t, p.Run(context.Background()), ErrStreamEnded)

	assert.Equal(t, []int{2, 2}, p.History(), "dropped samples never reach the filter")
	_, seq := cell.Load()
	assert.Equal(t, uint64(2), seq)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.SamplesDropped)
	assert.Equal(t, uint64(1), s.DetectorErrors)
}

func TestProducerRetriesSourceErrors(t *testing.T) {
	src := &scriptedSource{
		frames: frames(1),
		errs:   []error{errors.New("shm busy"), errors.New("shm busy")},
	}
	var seen []uint64
	m := metrics.New()
	p := NewProducer(Config{Subsample: 1, RetryBackoff: time.Millisecond}, src, countsByFrame(map[uint64]int{1: 1}, &seen), newFilter(t, 3), &Cell{}, m)
	require.ErrorIs(t, p.Run(context.Background()), ErrStreamEnded)

	assert.Equal(t, []uint64{1}, seen)
	assert.Equal(t, uint64(2), m.Snapshot().SourceErrors)
}

func TestProducerStopsOnCancel(t *testing.T) {
	ch := make(chan *types.Frame)
	ctx, cancel := context.WithCancel(context.Background())

	var seen []uint64
	p := NewProducer(Config{Subsample: 1}, NewChanSource(ch), countsByFrame(nil, &seen), newFilter(t, 3), &Cell{}, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	ch <- &types.Frame{FrameNum: 1}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop")
	}
}

func TestProducerRateLimitsDetector(t *testing.T) {
	var seen []uint64
	p := NewProducer(Config{Subsample: 1, DetectRate: 0.001}, &scriptedSource{frames: frames(20)}, countsByFrame(nil, &seen), newFilter(t, 3), &Cell{}, nil)
	require.ErrorIs(t, p.Run(context.Background()), ErrStreamEnded)

	assert.Equal(t, []uint64{1}, seen, "burst of one, then the limiter skips frames")
}

func TestChanSourceEndsOnClose(t *testing.T) {
	ch := make(chan *types.Frame, 1)
	ch <- &types.Frame{FrameNum: 9}
	close(ch)

	src := NewChanSource(ch)
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), f.FrameNum)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
