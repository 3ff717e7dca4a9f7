// Package audio plays the count announcement clips.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// ErrClipUnavailable is returned when no playable clip exists for a count
var ErrClipUnavailable = errors.New("clip unavailable")

// Clip is a decoded clip as interleaved signed 16-bit PCM
type Clip struct {
	Name       string
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration returns the playing time of the clip
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// ClipTable maps counts 1..MaxCount to clips. Missing entries stay nil.
type ClipTable struct {
	clips [types.MaxCount]*Clip
}

// NewClipTable builds a table from clips indexed by count-1
func NewClipTable(clips ...*Clip) *ClipTable {
	t := &ClipTable{}
	for i, c := range clips {
		if i >= types.MaxCount {
			break
		}
		t.clips[i] = c
	}
	return t
}

// LoadClips decodes names[i] from dir as the clip for count i+1. Clips that
// fail to load are left out of the table and reported in the joined error;
// the table is usable either way.
func LoadClips(dir string, names []string) (*ClipTable, error) {
	t := &ClipTable{}
	var errs []error
	for i, name := range names {
		if i >= types.MaxCount {
			break
		}
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		clip, err := LoadWAV(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("clip for %d: %w", i+1, err))
			continue
		}
		t.clips[i] = clip
	}
	return t, errors.Join(errs...)
}

// Get returns the clip for count, or ErrClipUnavailable
func (t *ClipTable) Get(count int) (*Clip, error) {
	if count < 1 || count > types.MaxCount {
		return nil, fmt.Errorf("%w: no clip for count %d", ErrClipUnavailable, count)
	}
	c := t.clips[count-1]
	if c == nil {
		return nil, fmt.Errorf("%w: clip for count %d not loaded", ErrClipUnavailable, count)
	}
	return c, nil
}

// Loaded returns the counts that have a clip
func (t *ClipTable) Loaded() []int {
	var out []int
	for i, c := range t.clips {
		if c != nil {
			out = append(out, i+1)
		}
	}
	return out
}

// LoadWAV decodes a WAV file
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	clip.Name = filepath.Base(path)
	return clip, nil
}

// DecodeWAV reads a whole PCM WAV stream and converts it to 16-bit samples
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file format")
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return nil, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}

	samples, err := toInt16(buf, int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}
	return &Clip{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		Samples:    samples,
	}, nil
}

func toInt16(buf *goaudio.IntBuffer, bitDepth int) ([]int16, error) {
	out := make([]int16, len(buf.Data))
	switch bitDepth {
	case 8:
		for i, v := range buf.Data {
			out[i] = int16((v - 128) << 8)
		}
	case 16:
		for i, v := range buf.Data {
			out[i] = int16(v)
		}
	case 24:
		for i, v := range buf.Data {
			out[i] = int16(v >> 8)
		}
	case 32:
		for i, v := range buf.Data {
			out[i] = int16(v >> 16)
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	return out, nil
}
