// Package webmonitor serves the status page, a live status stream and the
// signaling endpoint for browser camera publishers.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/announcer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/notify"
)

const maxOfferSize = 1 << 20

// OfferHandler answers a WebRTC offer
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// Sources feed the status payload. All fields are optional.
type Sources struct {
	Announcer interface{ Snapshot() announcer.Snapshot }
	History   func() []int
	Metrics   *metrics.Metrics
	Ingest    OfferHandler
	Journal   interface{ GetStatus() journal.Status }
	MQTT      interface{ Stats() notify.Stats }
}

// Server serves the monitor endpoints.
type Server struct {
	cfg    Config
	src    Sources
	status *StatusBroadcaster
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, src Sources) *Server {
	d := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = d.StatusInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = d.KeepaliveInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if src.Metrics == nil {
		src.Metrics = metrics.New()
	}

	s := &Server{cfg: cfg, src: src}
	s.status = NewStatusBroadcaster(s.buildStatus)
	return s
}

// SetAnnouncer sets the snapshot source; call before Run
func (s *Server) SetAnnouncer(a interface{ Snapshot() announcer.Snapshot }) {
	s.src.Announcer = a
}

// Display returns the announcer display backed by the status stream
func (s *Server) Display() announcer.Display {
	return s.status
}

// Broadcaster exposes the status broadcaster
func (s *Server) Broadcaster() *StatusBroadcaster {
	return s.status
}

func (s *Server) buildStatus(stable int, status string) Status {
	st := Status{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	if s.src.Announcer != nil {
		snap := s.src.Announcer.Snapshot()
		st.Announcer = &snap
	}
	if s.src.History != nil {
		st.History = s.src.History()
	}
	ms := s.src.Metrics.Snapshot()
	st.Metrics = &ms
	if s.src.Journal != nil {
		js := s.src.Journal.GetStatus()
		st.Journal = &js
	}
	if s.src.MQTT != nil {
		ns := s.src.MQTT.Stats()
		st.MQTT = &ns
	}
	return st
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.Handle("/metrics", s.src.Metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("WebMonitor", "Listening on %s", ln.Addr())
		errCh <- httpServer.Serve(ln)
	}()

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-ticker.C:
			s.status.Refresh()

		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("WebMonitor", "Shutdown: %v", err)
				_ = httpServer.Close()
			}
			<-errCh
			logger.Info("WebMonitor", "Stopped")
			return nil
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status.Current())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	first, err := serializeStatus(s.status.Current())
	if err != nil {
		logger.Error("WebMonitor", "Serialize error: %v", err)
		first = nil
	}
	streamStatusEvents(r.Context(), w, eventCh, first, useProtobuf, s.cfg.KeepaliveInterval)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.src.Ingest == nil {
		writeJSONWithStatus(w, map[string]any{"error": "camera ingest is not enabled"}, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.src.Ingest.HandleOffer(body)
	if err != nil {
		logger.Warn("WebMonitor", "Offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"status_clients": s.status.ClientCount(),
	}
	if s.src.Ingest != nil {
		payload["webrtc_clients"] = s.src.Ingest.GetClientCount()
	}
	if last := s.src.Metrics.LastSample(); !last.IsZero() {
		payload["last_sample_age_ms"] = time.Since(last).Milliseconds()
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
