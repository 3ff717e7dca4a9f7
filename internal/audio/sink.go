package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
)

// Sink plays the clip for a count. Play interrupts whatever is playing.
type Sink interface {
	Play(ctx context.Context, count int) error
	Stop() error
	Close() error
}

// Output is a playback device that can start and halt one clip at a time
type Output interface {
	Start(clip *Clip) error
	Halt() error
	Close() error
}

var errClosed = errors.New("audio sink closed")

// ClipSink resolves counts through a ClipTable and drives an Output
type ClipSink struct {
	mu     sync.Mutex
	clips  *ClipTable
	out    Output
	closed bool
}

// NewClipSink creates a ClipSink
func NewClipSink(clips *ClipTable, out Output) *ClipSink {
	return &ClipSink{clips: clips, out: out}
}

// Play stops the current clip and starts the one for count
func (s *ClipSink) Play(ctx context.Context, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	clip, err := s.clips.Get(count)
	if err != nil {
		return err
	}
	if err := s.out.Halt(); err != nil {
		logger.Warn("Audio", "Failed to stop previous clip: %v", err)
	}
	if err := s.out.Start(clip); err != nil {
		return fmt.Errorf("%w: play %s: %w", ErrClipUnavailable, clip.Name, err)
	}
	logger.Debug("Audio", "Playing %s (%s)", clip.Name, clip.Duration())
	return nil
}

// Stop halts playback
func (s *ClipSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.out.Halt()
}

// Close halts playback and releases the output
func (s *ClipSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.out.Halt(), s.out.Close())
}

// LogOutput only logs what would be played
type LogOutput struct{}

// Start logs the clip
func (LogOutput) Start(clip *Clip) error {
	logger.Info("Audio", "Would play %s (%s)", clip.Name, clip.Duration())
	return nil
}

// Halt does nothing
func (LogOutput) Halt() error { return nil }

// Close does nothing
func (LogOutput) Close() error { return nil }
