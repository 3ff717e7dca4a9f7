package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

var (
	sps   = []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1f}
	pps   = []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0, 0, 1, 0x65, 0x88, 0x84}
	slice = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02}
)

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestNALTypeList(t *testing.T) {
	assert.Equal(t, []uint8{7, 8, 5}, nalTypes(join(sps, pps, idr)))
	assert.Equal(t, []uint8{1}, nalTypes(slice))
	assert.Empty(t, nalTypes([]byte{1, 2, 3}))
}

func TestProcessorWaitsForIDR(t *testing.T) {
	p := NewProcessor()

	err := p.Process(&types.Frame{Data: append([]byte(nil), slice...)})
	assert.ErrorIs(t, err, ErrNotSynced)
	assert.False(t, p.synced)

	f := &types.Frame{Data: join(sps, pps, idr)}
	require.NoError(t, p.Process(f))
	assert.True(t, f.IsIDR)
	assert.True(t, p.synced)
	assert.True(t, p.HasHeaders())

}

func TestProcessorDropsNonIDRAfterSync(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.Process(&types.Frame{Data: join(sps, pps, idr)}))

	f := &types.Frame{Data: append([]byte(nil), slice...)}
	assert.ErrorIs(t, p.Process(f), ErrNotIDR)
	assert.False(t, f.IsIDR)
	assert.True(t, p.synced)

	f = &types.Frame{Data: append([]byte(nil), idr...)}
	require.NoError(t, p.Process(f))
	assert.Equal(t, []uint8{7, 8, 5}, nalTypes(f.Data))
}

func TestProcessorPrependsCachedHeaders(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.Process(&types.Frame{Data: join(sps, pps, idr)}))

	f := &types.Frame{Data: append([]byte(nil), idr...)}
	require.NoError(t, p.Process(f))
	assert.Equal(t, join(sps, pps, idr), f.Data)
}

func TestProcessorIDRWithoutHeadersIsNotSynced(t *testing.T) {
	p := NewProcessor()
	f := &types.Frame{Data: append([]byte(nil), idr...)}
	assert.ErrorIs(t, p.Process(f), ErrNotSynced)
	assert.True(t, f.IsIDR)
}

func TestProcessorReset(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.Process(&types.Frame{Data: join(sps, pps, idr)}))
	p.Reset()
	assert.False(t, p.HasHeaders())
	assert.ErrorIs(t, p.Process(&types.Frame{Data: append([]byte(nil), slice...)}), ErrNotSynced)
}

func TestProcessorEmpty(t *testing.T) {
	assert.Error(t, NewProcessor().Process(&types.Frame{}))
}
