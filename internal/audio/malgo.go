//go:build cgo

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoOutput plays clips through miniaudio. The device is reopened when a
// clip's format differs from the previous one.
type MalgoOutput struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	chans  int

	// Playback state read by the device callback
	cur atomic.Pointer[cursor]
}

// cursor is never mutated once published; the callback advances playback
// by swapping in a successor.
type cursor struct {
	pcm []byte
	pos int
}

// NewMalgoOutput initializes the miniaudio context
func NewMalgoOutput() (*MalgoOutput, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoOutput{ctx: ctx}, nil
}

func (o *MalgoOutput) openDevice(rate, chans int) error {
	if o.device != nil {
		if o.rate == rate && o.chans == chans {
			return nil
		}
		o.device.Uninit()
		o.device = nil
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(chans)
	config.SampleRate = uint32(rate)

	device, err := malgo.InitDevice(o.ctx.Context, config, malgo.DeviceCallbacks{
		Data: o.dataCallback,
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	o.device = device
	o.rate, o.chans = rate, chans
	return nil
}

func (o *MalgoOutput) dataCallback(pOutput, _ []byte, _ uint32) {
	c := o.cur.Load()
	if c == nil {
		clear(pOutput)
		return
	}

	n := copy(pOutput, c.pcm[c.pos:])
	clear(pOutput[n:])

	var next *cursor
	if c.pos+n < len(c.pcm) {
		next = &cursor{pcm: c.pcm, pos: c.pos + n}
	}
	// A failed swap means Start or Halt replaced the clip meanwhile
	o.cur.CompareAndSwap(c, next)
}

// Start plays clip from the beginning
func (o *MalgoOutput) Start(clip *Clip) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.openDevice(clip.SampleRate, clip.Channels); err != nil {
		return err
	}

	pcm := make([]byte, len(clip.Samples)*2)
	for i, s := range clip.Samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	o.cur.Store(&cursor{pcm: pcm})

	if o.device.IsStarted() {
		return nil
	}
	if err := o.device.Start(); err != nil {
		o.cur.Store(nil)
		return fmt.Errorf("start playback device: %w", err)
	}
	return nil
}

// Halt silences the device
func (o *MalgoOutput) Halt() error {
	o.cur.Store(nil)
	return nil
}

// Close releases the device and the context
func (o *MalgoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cur.Store(nil)
	if o.device != nil {
		o.device.Uninit()
		o.device = nil
	}
	if o.ctx != nil {
		err := o.ctx.Uninit()
		o.ctx.Free()
		o.ctx = nil
		return err
	}
	return nil
}
