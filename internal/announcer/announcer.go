// Package announcer runs the consumer loop: it polls the stable count,
// evaluates the trigger and fans the resulting action out to the sinks.
package announcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/audio"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/counter"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/trigger"
)

// DefaultTickInterval is the consumer polling period
const DefaultTickInterval = 300 * time.Millisecond

// Status texts shown on the display
const (
	StatusWaitingCamera = "Waiting for camera..."
	StatusWaitingPeople = "Waiting for people..."
)

// PlayingStatus returns the status text for an announced count
func PlayingStatus(count int) string {
	return fmt.Sprintf("Playing audio for %d %s", count, noun(count))
}

func unavailableStatus(count int) string {
	return fmt.Sprintf("Audio unavailable for %d %s", count, noun(count))
}

func noun(count int) string {
	if count == 1 {
		return "person"
	}
	return "people"
}

// Display shows the stable count and a status line; the last write wins
type Display interface {
	Show(stable int, status string)
}

// Journal records actions
type Journal interface {
	Record(e journal.Entry) bool
}

// Notifier publishes actions
type Notifier interface {
	Publish(e notify.Event) bool
}

// Deps are the collaborators of an Announcer. Only Cell, Trigger and Sink
// are required.
type Deps struct {
	Cell     *counter.Cell
	Trigger  *trigger.Trigger
	Sink     audio.Sink
	Displays []Display
	Journal  Journal
	Notifier Notifier
	Metrics  *metrics.Metrics
	Clock    trigger.Clock
	Session  string // stamped on published events
}

// Snapshot is the consumer state as seen by other goroutines
type Snapshot struct {
	Stable       int           `json:"stable_count"`
	Seq          uint64        `json:"sample_seq"`
	Status       string        `json:"status"`
	LastAction   string        `json:"last_action"`
	LastActionAt time.Time     `json:"last_action_at"`
	Trigger      trigger.State `json:"trigger"`
}

// Announcer owns the Trigger and is driven by a single goroutine
type Announcer struct {
	interval time.Duration
	deps     Deps
	status   string

	mu       sync.RWMutex
	snapshot Snapshot
}

// New creates an Announcer
func New(interval time.Duration, deps Deps) (*Announcer, error) {
	if deps.Cell == nil || deps.Trigger == nil || deps.Sink == nil {
		return nil, errors.New("announcer needs a cell, a trigger and a sink")
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = trigger.SystemClock{}
	}
	a := &Announcer{
		interval: interval,
		deps:     deps,
		status:   StatusWaitingCamera,
	}
	a.snapshot = Snapshot{Status: a.status, Trigger: deps.Trigger.State()}
	return a, nil
}

// Run ticks until ctx is cancelled, then stops playback
func (a *Announcer) Run(ctx context.Context) error {
	logger.Info("Announcer", "Started (tick=%s, threshold=%d, cooldown=%s)",
		a.interval, a.deps.Trigger.Config().StabilityThreshold, a.deps.Trigger.Config().Cooldown)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.deps.Sink.Stop(); err != nil {
				logger.Warn("Announcer", "Failed to stop audio: %v", err)
			}
			logger.Info("Announcer", "Stopped")
			return nil
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick performs one evaluation and returns the action taken
func (a *Announcer) Tick(ctx context.Context) trigger.Action {
	stable, seq := a.deps.Cell.Load()
	now := a.deps.Clock.Now()
	action := a.deps.Trigger.Evaluate(stable)
	m := a.deps.Metrics
	m.Ticks.Add(1)

	if seq > 0 && a.status == StatusWaitingCamera {
		a.status = StatusWaitingPeople
	}

	var playErr error
	switch action.Kind {
	case trigger.Announce:
		m.Announcements.Add(1)
		if !action.Replayed {
			m.Commits.Add(1)
		}
		if err := a.deps.Sink.Play(ctx, action.Count); err != nil {
			playErr = err
			m.ClipErrors.Add(1)
			logger.Warn("Announcer", "Cannot play clip for %d: %v", action.Count, err)
			a.status = unavailableStatus(action.Count)
		} else {
			a.status = PlayingStatus(action.Count)
		}

	case trigger.Silence:
		m.Silences.Add(1)
		if !action.Replayed {
			m.Commits.Add(1)
		}
		if err := a.deps.Sink.Stop(); err != nil {
			logger.Warn("Announcer", "Failed to stop audio: %v", err)
		}
		a.status = StatusWaitingPeople

	default:
		if action.Suppressed {
			m.Commits.Add(1)
			m.Suppressed.Add(1)
			logger.Debug("Announcer", "Commit of %d suppressed by cooldown", action.Count)
		}
	}
	if action.Replayed {
		m.Replayed.Add(1)
	}
	if !action.IsNone() {
		logger.Info("Announcer", "Action %s (stable=%d)", action, stable)
	}

	// Displays may read Snapshot, so it is updated first
	a.mu.Lock()
	a.snapshot.Stable = stable
	a.snapshot.Seq = seq
	a.snapshot.Status = a.status
	a.snapshot.Trigger = a.deps.Trigger.State()
	if !action.IsNone() {
		a.snapshot.LastAction = action.String()
		a.snapshot.LastActionAt = now
	}
	a.mu.Unlock()

	for _, d := range a.deps.Displays {
		d.Show(stable, a.status)
	}

	if !action.IsNone() || action.Suppressed {
		a.record(action, stable, now, playErr)
	}

	return action
}

func (a *Announcer) record(action trigger.Action, stable int, now time.Time, playErr error) {
	if a.deps.Journal != nil {
		e := journal.Entry{
			Time:       now,
			Action:     action.Kind.String(),
			Count:      action.Count,
			Stable:     stable,
			Replayed:   action.Replayed,
			Suppressed: action.Suppressed,
			Status:     a.status,
		}
		if playErr != nil {
			e.Error = playErr.Error()
		}
		if !a.deps.Journal.Record(e) {
			a.deps.Metrics.JournalErrors.Add(1)
		}
	}

	if a.deps.Notifier != nil && !action.IsNone() {
		if !a.deps.Notifier.Publish(notify.Event{
			Session:  a.deps.Session,
			Time:     now,
			Action:   action.Kind.String(),
			Count:    action.Count,
			Stable:   stable,
			Replayed: action.Replayed,
			Status:   a.status,
		}) {
			a.deps.Metrics.NotifyErrors.Add(1)
		}
	}
}

// Snapshot returns the state after the latest tick
func (a *Announcer) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}
