package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	m := New()
	m.FramesRead.Add(10)
	m.Announcements.Add(2)
	m.RecordSample(3, 2, time.UnixMilli(1700000000000))
	m.UpdateDetectLatency(45 * time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(10), s.FramesRead)
	assert.Equal(t, uint64(2), s.Announcements)
	assert.Equal(t, int64(3), s.RawCount)
	assert.Equal(t, int64(2), s.StableCount)
	assert.Equal(t, uint64(1), s.SamplesCounted)
	assert.Equal(t, uint64(45), s.DetectLatencyMs)
	assert.Equal(t, time.UnixMilli(1700000000000), m.LastSample())
}

func TestLastSampleZeroBeforeFirstSample(t *testing.T) {
	assert.True(t, New().LastSample().IsZero())
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Silences.Add(4)
	m.StableCount.Store(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "people_counter_silences_total 4")
	assert.Contains(t, string(body), "people_counter_stable_count 1")
}

func TestGathererIsPrivate(t *testing.T) {
	a, b := New(), New()
	fa, err := a.Gatherer().Gather()
	require.NoError(t, err)
	fb, err := b.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, len(fa), len(fb))
}
