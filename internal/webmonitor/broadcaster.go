package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/announcer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/notify"
)

// Status is the payload of /api/status and of each status stream event
type Status struct {
	StableCount int                 `json:"stable_count"`
	Status      string              `json:"status"`
	Announcer   *announcer.Snapshot `json:"announcer,omitempty"`
	History     []int               `json:"history"`
	Metrics     *metrics.Snapshot   `json:"metrics,omitempty"`
	Journal     *journal.Status     `json:"journal,omitempty"`
	MQTT        *notify.Stats       `json:"mqtt,omitempty"`
	Timestamp   float64             `json:"timestamp"`
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// StatusBroadcaster manages fanout of status events to multiple SSE clients.
// It is the web display of the announcer: every change of the stable count
// or the status line is pushed immediately.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int

	build func(stable int, status string) Status

	shown      bool
	lastStable int
	lastStatus string
}

// NewStatusBroadcaster creates a broadcaster. build assembles the payload
// for the given display values.
func NewStatusBroadcaster(build func(stable int, status string) Status) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:    make(map[int]chan *SerializedEvent),
		build:      build,
		lastStatus: announcer.StatusWaitingCamera,
	}
}

// Subscribe adds a new client and returns a channel for receiving status events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// ClientCount returns the number of subscribed clients
func (sb *StatusBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Show records the displayed values and pushes an event when they changed
func (sb *StatusBroadcaster) Show(stable int, status string) {
	sb.mu.Lock()
	changed := !sb.shown || stable != sb.lastStable || status != sb.lastStatus
	sb.shown = true
	sb.lastStable = stable
	sb.lastStatus = status
	sb.mu.Unlock()

	if changed {
		sb.Refresh()
	}
}

// Current returns the payload for the last shown values
func (sb *StatusBroadcaster) Current() Status {
	sb.mu.Lock()
	stable, status := sb.lastStable, sb.lastStatus
	sb.mu.Unlock()

	st := sb.build(stable, status)
	st.StableCount = stable
	st.Status = status
	if st.Timestamp == 0 {
		st.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if st.History == nil {
		st.History = []int{}
	}
	return st
}

// Refresh serializes the current status and sends it to every client
func (sb *StatusBroadcaster) Refresh() {
	if sb.ClientCount() == 0 {
		return
	}
	event, err := serializeStatus(sb.Current())
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
		return
	}
	sb.broadcast(event)
}

func serializeStatus(st Status) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}

	// structpb accepts only JSON-shaped values
	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, err
	}
	pbStruct, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbStruct)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
