// Package smoothing turns the noisy per-frame person count into a stable count
// by taking the median over a short window of recent samples.
package smoothing

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

const (
	// DefaultCapacity is the history window used when none is configured
	DefaultCapacity = 5
	// MaxCapacity bounds the window; larger windows only add latency
	MaxCapacity = 15
)

// ErrInvalidCapacity is returned for even, zero or oversized windows
var ErrInvalidCapacity = errors.New("smoothing: capacity must be odd and between 1 and 15")

// Filter keeps the most recent samples in a ring and reports their median.
// It is not safe for concurrent use; the producer goroutine owns it.
type Filter struct {
	ring   []int
	next   int // index the next sample is written to
	size   int // number of valid samples in ring
	stable int
	sorted []int // scratch buffer reused by median
}

// New creates a Filter holding up to capacity samples
func New(capacity int) (*Filter, error) {
	if capacity < 1 || capacity > MaxCapacity || capacity%2 == 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCapacity, capacity)
	}
	return &Filter{
		ring:   make([]int, capacity),
		sorted: make([]int, 0, capacity),
	}, nil
}

// Update records raw and returns the median of the current window.
// raw is clamped to [0, types.MaxCount] in case the caller has not done so.
func (f *Filter) Update(raw int) int {
	f.ring[f.next] = types.ClampCount(raw)
	f.next = (f.next + 1) % len(f.ring)
	if f.size < len(f.ring) {
		f.size++
	}
	f.stable = f.median()
	return f.stable
}

// Stable returns the median computed by the last Update (0 before any sample)
func (f *Filter) Stable() int {
	return f.stable
}

// Len returns the number of samples currently in the window
func (f *Filter) Len() int {
	return f.size
}

// Capacity returns the window size
func (f *Filter) Capacity() int {
	return len(f.ring)
}

// History returns a copy of the window, oldest sample first
func (f *Filter) History() []int {
	out := make([]int, 0, f.size)
	start := (f.next - f.size + len(f.ring)) % len(f.ring)
	for i := 0; i < f.size; i++ {
		out = append(out, f.ring[(start+i)%len(f.ring)])
	}
	return out
}

// Reset empties the window
func (f *Filter) Reset() {
	f.next = 0
	f.size = 0
	f.stable = 0
}

// median of the valid samples. For an even count during warm-up the lower
// middle value is used so the result is always one of the samples.
func (f *Filter) median() int {
	if f.size == 0 {
		return 0
	}
	// Before the first wrap the valid samples are ring[:size]; after it the
	// whole ring is valid, so the slice is correct in both cases.
	f.sorted = append(f.sorted[:0], f.ring[:f.size]...)
	slices.Sort(f.sorted)
	return f.sorted[(f.size-1)/2]
}
