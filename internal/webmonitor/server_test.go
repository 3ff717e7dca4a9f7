package webmonitor

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/announcer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/trigger"
)

type fakeAnnouncer struct{ snap announcer.Snapshot }

func (f *fakeAnnouncer) Snapshot() announcer.Snapshot { return f.snap }

type fakeIngest struct {
	answer []byte
	err    error
	got    []byte
}

func (f *fakeIngest) HandleOffer(offer []byte) ([]byte, error) {
	f.got = offer
	return f.answer, f.err
}

func (f *fakeIngest) GetClientCount() int { return 1 }

func newTestServer(ingest OfferHandler) (*Server, *metrics.Metrics) {
	m := metrics.New()
	s := NewServer(Config{KeepaliveInterval: 50 * time.Millisecond}, Sources{
		Announcer: &fakeAnnouncer{snap: announcer.Snapshot{
			Stable:     2,
			LastAction: "announce(2)",
			Trigger:    trigger.State{CandidateCount: 2, StabilityRun: 0, LastAnnouncedCount: 2},
		}},
		History: func() []int { return []int{2, 2, 1} },
		Metrics: m,
		Ingest:  ingest,
	})
	return s, m
}

func TestStatusEndpoint(t *testing.T) {
	s, m := newTestServer(nil)
	m.FramesRead.Add(9)
	s.Display().Show(2, announcer.PlayingStatus(2))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.StableCount)
	assert.Equal(t, "Playing audio for 2 people", st.Status)
	assert.Equal(t, []int{2, 2, 1}, st.History)
	require.NotNil(t, st.Announcer)
	assert.Equal(t, "announce(2)", st.Announcer.LastAction)
	require.NotNil(t, st.Metrics)
	assert.Equal(t, uint64(9), st.Metrics.FramesRead)
	assert.Greater(t, st.Timestamp, 0.0)
}

type fakeJournal struct{}

func (fakeJournal) GetStatus() journal.Status {
	return journal.Status{Open: true, Session: "s-1", Written: 4}
}

type fakeMQTT struct{}

func (fakeMQTT) Stats() notify.Stats {
	return notify.Stats{Connected: true, Published: 3, Dropped: 1}
}

func TestStatusIncludesJournalAndMQTT(t *testing.T) {
	s, _ := newTestServer(nil)
	s.src.Journal = fakeJournal{}
	s.src.MQTT = fakeMQTT{}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.Journal)
	assert.Equal(t, "s-1", st.Journal.Session)
	assert.Equal(t, uint64(4), st.Journal.Written)
	require.NotNil(t, st.MQTT)
	assert.True(t, st.MQTT.Connected)
	assert.Equal(t, uint64(3), st.MQTT.Published)
	assert.Equal(t, uint64(1), st.MQTT.Dropped)
}

func TestStatusBeforeFirstTick(t *testing.T) {
	sb := NewStatusBroadcaster(func(int, string) Status { return Status{} })
	st := sb.Current()
	assert.Equal(t, announcer.StatusWaitingCamera, st.Status)
	assert.Equal(t, []int{}, st.History)
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func openStream(t *testing.T, url, accept string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/status/stream", nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestStatusStreamJSON(t *testing.T) {
	s, _ := newTestServer(nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, r := openStream(t, ts.URL, "")
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

	var first Status
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &first))
	assert.Equal(t, announcer.StatusWaitingCamera, first.Status)

	s.Display().Show(3, announcer.PlayingStatus(3))

	var next Status
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &next))
	assert.Equal(t, 3, next.StableCount)
	assert.Equal(t, "Playing audio for 3 people", next.Status)
}

func TestStatusStreamProtobuf(t *testing.T) {
	s, _ := newTestServer(nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, r := openStream(t, ts.URL, "application/x-protobuf")
	assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))
	readEvent(t, r)

	s.Display().Show(1, announcer.PlayingStatus(1))

	raw, err := base64.StdEncoding.DecodeString(readEvent(t, r))
	require.NoError(t, err)
	var msg structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &msg))

	fields := msg.GetFields()
	assert.Equal(t, 1.0, fields["stable_count"].GetNumberValue())
	assert.Equal(t, "Playing audio for 1 person", fields["status"].GetStringValue())
	assert.Len(t, fields["history"].GetListValue().GetValues(), 3)
}

func TestStatusStreamKeepalive(t *testing.T) {
	s, _ := newTestServer(nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	_, r := openStream(t, ts.URL, "")
	readEvent(t, r)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": keepalive") {
			return
		}
	}
	t.Fatal("no keepalive received")
}

func TestShowPushesOnlyOnChange(t *testing.T) {
	sb := NewStatusBroadcaster(func(int, string) Status { return Status{} })
	id, ch := sb.Subscribe()
	defer sb.Unsubscribe(id)

	sb.Show(0, announcer.StatusWaitingPeople)
	sb.Show(0, announcer.StatusWaitingPeople)
	sb.Show(1, announcer.PlayingStatus(1))

	assert.Len(t, ch, 2)
	assert.Equal(t, 1, sb.ClientCount())
}

func TestWebRTCOffer(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestServer(nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer",
			strings.NewReader(`{"type":"offer","sdp":"v=0"}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method", func(t *testing.T) {
		s, _ := newTestServer(&fakeIngest{})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webrtc/offer", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		ingest := &fakeIngest{}
		s, _ := newTestServer(ingest)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer",
			strings.NewReader(`{"sdp":"v=0"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, ingest.got)
	})

	t.Run("answer", func(t *testing.T) {
		ingest := &fakeIngest{answer: []byte(`{"type":"answer","sdp":"v=0"}`)}
		s, _ := newTestServer(ingest)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer",
			strings.NewReader(`{"type":"offer","sdp":"v=0"}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"type":"answer","sdp":"v=0"}`, rec.Body.String())
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(ingest.got))
	})

	t.Run("rejected", func(t *testing.T) {
		s, _ := newTestServer(&fakeIngest{err: errors.New("maximum clients reached")})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer",
			strings.NewReader(`{"type":"offer","sdp":"v=0"}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "maximum clients")
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s, m := newTestServer(&fakeIngest{})
	m.RecordSample(1, 1, time.Now())
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["webrtc_clients"])
	assert.Contains(t, health, "last_sample_age_ms")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "people_counter_stable_count")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "/api/status/stream")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
