package shm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

type scriptedReader struct {
	steps  []func() (*types.Frame, error)
	i      int
	closed bool
}

func (r *scriptedReader) ReadLatest() (*types.Frame, error) {
	if r.i >= len(r.steps) {
		return nil, nil
	}
	step := r.steps[r.i]
	r.i++
	return step()
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func frame(n uint64) func() (*types.Frame, error) {
	return func() (*types.Frame, error) {
		return &types.Frame{FrameNum: n, Format: types.FormatJPEG}, nil
	}
}

func TestSourceSkipsDuplicatesAndErrors(t *testing.T) {
	m := metrics.New()
	r := &scriptedReader{steps: []func() (*types.Frame, error){
		func() (*types.Frame, error) { return nil, nil },
		frame(7),
		frame(7),
		func() (*types.Frame, error) { return nil, errors.New("torn read") },
		frame(8),
	}}
	s := newSource(r, time.Millisecond, m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.FrameNum)

	f, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), f.FrameNum)
	assert.Equal(t, uint64(1), m.SourceErrors.Load())

	require.NoError(t, s.Close())
	assert.True(t, r.closed)
}

func h264Frame(n uint64, nals ...[]byte) func() (*types.Frame, error) {
	return func() (*types.Frame, error) {
		var data []byte
		for _, nal := range nals {
			data = append(data, nal...)
		}
		return &types.Frame{FrameNum: n, Format: types.FormatH264, Data: data}, nil
	}
}

func TestSourceYieldsOnlyIDRsFromH264Ring(t *testing.T) {
	sps := []byte{0, 0, 0, 1, 0x67, 0x42}
	pps := []byte{0, 0, 0, 1, 0x68, 0xce}
	idr := []byte{0, 0, 1, 0x65, 0x88}
	slice := []byte{0, 0, 1, 0x41, 0x9a}

	m := metrics.New()
	r := &scriptedReader{steps: []func() (*types.Frame, error){
		h264Frame(1, slice),
		h264Frame(2, sps, pps, idr),
		h264Frame(3, slice),
		h264Frame(4, slice),
		h264Frame(5, idr),
	}}
	s := newSource(r, time.Millisecond, m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.FrameNum)
	assert.True(t, f.IsIDR)

	f, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), f.FrameNum)
	assert.True(t, f.IsIDR)
	// Cached parameter sets are prepended to the bare IDR
	assert.Len(t, f.Data, len(sps)+len(pps)+len(idr))
	assert.Zero(t, m.SourceErrors.Load())
}

func TestSourceStopsOnCancel(t *testing.T) {
	s := newSource(&scriptedReader{}, time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFormatFromSHM(t *testing.T) {
	cases := map[int]types.FrameFormat{
		shmFormatJPEG: types.FormatJPEG,
		shmFormatNV12: types.FormatNV12,
		shmFormatH264: types.FormatH264,
	}
	for id, want := range cases {
		got, ok := formatFromSHM(id)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := formatFromSHM(shmFormatRGB)
	assert.False(t, ok)
}
