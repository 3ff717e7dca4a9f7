//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

// PulseOutput plays clips through a PulseAudio server. Each clip gets its own
// stream; halting makes the stream's reader report end of data.
type PulseOutput struct {
	mu      sync.Mutex
	client  *pulse.Client
	current *atomic.Bool
	wg      sync.WaitGroup
}

// NewPulseOutput connects to the PulseAudio server
func NewPulseOutput() (*PulseOutput, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("people-counter"))
	if err != nil {
		return nil, fmt.Errorf("connect pulseaudio: %w", err)
	}
	return &PulseOutput{client: c}, nil
}

// Start plays clip on a new stream
func (o *PulseOutput) Start(clip *Clip) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client == nil {
		return fmt.Errorf("pulseaudio client closed")
	}

	halted := &atomic.Bool{}
	samples := clip.Samples
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if halted.Load() || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	layout := pulse.PlaybackMono
	if clip.Channels == 2 {
		layout = pulse.PlaybackStereo
	}
	stream, err := o.client.NewPlayback(reader,
		layout,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return fmt.Errorf("create playback stream: %w", err)
	}

	o.current = halted
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		stream.Start()
		stream.Drain()
		stream.Stop()
		stream.Close()
	}()
	return nil
}

// Halt ends the current stream
func (o *PulseOutput) Halt() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.Store(true)
		o.current = nil
	}
	return nil
}

// Close waits for running streams and disconnects
func (o *PulseOutput) Close() error {
	o.Halt()
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		o.client.Close()
		o.client = nil
	}
	return nil
}
