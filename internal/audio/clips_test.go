package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, rate, bitDepth, chans int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitDepth, chans, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: chans},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
}

func TestLoadWAV16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2_people.wav")
	writeWAV(t, path, 8000, 16, 1, []int{0, 1000, -1000, 32767, -32768, 5, 6, 7})

	clip, err := LoadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, "2_people.wav", clip.Name)
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, []int16{0, 1000, -1000, 32767, -32768, 5, 6, 7}, clip.Samples)
	assert.Equal(t, time.Second, (&Clip{SampleRate: 8000, Channels: 1, Samples: make([]int16, 8000)}).Duration())
}

func TestLoadWAV24Stereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeWAV(t, path, 16000, 24, 2, []int{256, 512, 8388607, 0})

	clip, err := LoadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, clip.Channels)
	assert.Equal(t, []int16{1, 2, 32767, 0}, clip.Samples)
}

func TestLoadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF data"), 0o600))

	_, err := LoadWAV(path)
	assert.Error(t, err)
}

func TestLoadClipsToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1_person.wav", "2_people.wav", "4_people.wav", "5_people.wav"} {
		writeWAV(t, filepath.Join(dir, name), 8000, 16, 1, []int{1, 2, 3, 4})
	}

	table, err := LoadClips(dir, []string{"1_person.wav", "2_people.wav", "3_people.wav", "4_people.wav", "5_people.wav"})
	require.Error(t, err, "missing clip is reported")
	assert.Contains(t, err.Error(), "clip for 3")
	assert.Equal(t, []int{1, 2, 4, 5}, table.Loaded())

	c, err := table.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "2_people.wav", c.Name)

	_, err = table.Get(3)
	assert.ErrorIs(t, err, ErrClipUnavailable)
}

func TestClipTableBounds(t *testing.T) {
	table := NewClipTable(&Clip{Name: "one"}, &Clip{Name: "two"})
	for _, count := range []int{-1, 0, 3, 6} {
		_, err := table.Get(count)
		assert.ErrorIs(t, err, ErrClipUnavailable, "count %d", count)
	}
	c, err := table.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "one", c.Name)
}
