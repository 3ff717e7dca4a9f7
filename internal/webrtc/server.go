// Package webrtc lets a browser publish its camera as the frame source.
// Each connected publisher sends an H.264 track; access units are
// reassembled from RTP and handed out through Next.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

const (
	// Packets the sample builder may hold while waiting for reordering
	maxLatePackets = 256
	// How often a keyframe is requested from publishers. Only keyframes are
	// forwarded, so this bounds the ingest frame rate.
	pliInterval = 250 * time.Millisecond
)

// ErrTooManyClients is returned by HandleOffer when MaxClients are connected
var ErrTooManyClients = errors.New("maximum clients reached")

// Config configures the ingest server
type Config struct {
	STUNServers     []string
	MaxClients      int
	FrameBuffer     int  // queued access units before the oldest is dropped
	IncludeLoopback bool // offer loopback candidates (local testing)
}

// Client represents a connected publisher
type Client struct {
	id             string
	peerConn       *webrtc.PeerConnection
	closeChan      chan struct{}
	closeOnce      sync.Once
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
}

// Server manages publisher connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics

	frames   chan *types.Frame
	frameNum atomic.Uint64
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer creates a new ingest server. metrics may be nil.
func NewServer(cfg Config, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 1
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 8
	}
	if m == nil {
		m = metrics.New()
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingsEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("WebRTC", "Failed to register codecs: %v", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: cfg.MaxClients,
		api:        api,
		metrics:    m,
		frames:     make(chan *types.Frame, cfg.FrameBuffer),
		done:       make(chan struct{}),
	}
}

// HandleOffer accepts a publisher's offer and returns the answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: not an offer")
	}

	select {
	case <-s.done:
		return nil, errors.New("server closed")
	default:
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := peerConn.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to add transceiver: %w", err)
	}

	client := &Client{
		id:        generateClientID(),
		peerConn:  peerConn,
		closeChan: make(chan struct{}),
	}

	peerConn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
			logger.Warn("WebRTC", "Client %s sent unsupported track %s", client.id, track.Codec().MimeType)
			return
		}
		logger.Info("WebRTC", "Client %s started H.264 track (ssrc=%d)", client.id, track.SSRC())
		go s.requestKeyframes(client, track)
		s.readTrack(client, track)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	s.metrics.ActiveClients.Add(1)
	s.metrics.TotalClients.Add(1)

	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// readTrack reassembles access units until the track ends
func (s *Server) readTrack(client *Client, track *webrtc.TrackRemote) {
	builder := samplebuilder.New(maxLatePackets, &codecs.H264Packet{}, track.Codec().ClockRate)
	proc := h264.NewProcessor()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("WebRTC", "Client %s track ended: %v", client.id, err)
			}
			return
		}
		builder.Push(pkt)

		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			s.handleSample(client, proc, sample.Data)
		}
	}
}

// handleSample queues an access unit if it can be decoded on its own
func (s *Server) handleSample(client *Client, proc *h264.Processor, data []byte) {
	frame := &types.Frame{
		Data:      data,
		Format:    types.FormatH264,
		Timestamp: time.Now(),
	}
	if err := proc.Process(frame); err != nil {
		return
	}
	frame.FrameNum = s.frameNum.Add(1)
	client.framesReceived.Add(1)
	if !s.push(frame) {
		client.framesDropped.Add(1)
	}
}

// requestKeyframes sends a PLI periodically so decoding can restart quickly
func (s *Server) requestKeyframes(client *Client, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		if err := client.peerConn.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			return
		}
		select {
		case <-client.closeChan:
			return
		case <-ticker.C:
		}
	}
}

// push queues a frame, evicting the oldest queued frame when full. It
// returns false if a frame had to be dropped.
func (s *Server) push(frame *types.Frame) bool {
	select {
	case s.frames <- frame:
		return true
	default:
	}

	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- frame:
	default:
	}
	return false
}

// Next returns the next received access unit. It returns io.EOF after Close.
func (s *Server) Next(ctx context.Context) (*types.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case f := <-s.frames:
		return f, nil
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.closeOnce.Do(func() {
		close(client.closeChan)
		client.peerConn.Close()
	})
	s.metrics.ActiveClients.Add(^uint64(0))

	logger.Info("WebRTC", "Client %s disconnected (received: %d, dropped: %d)",
		clientID, client.framesReceived.Load(), client.framesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close disconnects all clients and ends the frame stream
func (s *Server) Close() error {
	s.doneOnce.Do(func() { close(s.done) })

	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

// generateClientID generates a unique client ID
func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
