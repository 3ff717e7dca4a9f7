// Package trigger decides when a stable person count should be announced.
//
// A Trigger is evaluated once per consumer tick. A new count must hold for
// StabilityThreshold consecutive ticks before it is committed, and committed
// counts are only voiced when at least Cooldown has passed since the previous
// action. A commit that lands inside the cooldown window is either replayed
// once the window closes (ReplaySuppressed) or dropped.
package trigger

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

const (
	DefaultStabilityThreshold = 5
	DefaultCooldown           = 1 * time.Second
)

// Config holds the tuning knobs of a Trigger
type Config struct {
	StabilityThreshold int           // consecutive ticks before a commit
	Cooldown           time.Duration // minimum spacing between actions
	ReplaySuppressed   bool          // voice commits suppressed by the cooldown later
}

// DefaultConfig returns the recommended trigger settings
func DefaultConfig() Config {
	return Config{
		StabilityThreshold: DefaultStabilityThreshold,
		Cooldown:           DefaultCooldown,
		ReplaySuppressed:   true,
	}
}

// Clock supplies wall-clock time to the trigger
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// State is a snapshot of the trigger's internal state
type State struct {
	LastAnnouncedCount int       `json:"last_announced_count"`
	CandidateCount     int       `json:"candidate_count"`
	StabilityRun       int       `json:"stability_run"`
	LastActionAt       time.Time `json:"last_action_at"`
	Pending            bool      `json:"pending"`
	Ticks              uint64    `json:"ticks"`
}

// Trigger is the alert state machine. It is not safe for concurrent use;
// a single consumer goroutine owns it.
type Trigger struct {
	cfg   Config
	clock Clock
	state State
}

// New creates a Trigger. The stream is considered to start now, so the first
// action is also subject to the cooldown measured from construction.
func New(cfg Config, clock Clock) *Trigger {
	if cfg.StabilityThreshold < 1 {
		cfg.StabilityThreshold = 1
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Trigger{
		cfg:   cfg,
		clock: clock,
		state: State{LastActionAt: clock.Now()},
	}
}

// Config returns the effective configuration
func (t *Trigger) Config() Config {
	return t.cfg
}

// State returns a copy of the current state
func (t *Trigger) State() State {
	return t.state
}

// Reset returns the trigger to its stream-start state
func (t *Trigger) Reset() {
	t.state = State{LastActionAt: t.clock.Now()}
}

// Evaluate runs one tick with the latest stable count and returns the action
// to perform. At most one non-None action is returned per call.
func (t *Trigger) Evaluate(stable int) Action {
	now := t.clock.Now()
	s := &t.state
	s.Ticks++
	stable = types.ClampCount(stable)

	if stable != s.CandidateCount {
		s.CandidateCount = stable
		s.StabilityRun = 1
	} else {
		s.StabilityRun++
	}

	committed := false
	if s.StabilityRun >= t.cfg.StabilityThreshold && s.CandidateCount != s.LastAnnouncedCount {
		s.LastAnnouncedCount = s.CandidateCount
		s.StabilityRun = 0
		committed = true
	}

	cooled := now.Sub(s.LastActionAt) >= t.cfg.Cooldown

	switch {
	case committed && cooled:
		s.Pending = false
		s.LastActionAt = now
		return actionFor(s.LastAnnouncedCount, false)

	case committed:
		s.Pending = t.cfg.ReplaySuppressed
		return Action{Kind: None, Count: s.LastAnnouncedCount, Suppressed: true}

	case s.Pending && cooled && s.CandidateCount == s.LastAnnouncedCount:
		s.Pending = false
		s.LastActionAt = now
		return actionFor(s.LastAnnouncedCount, true)
	}

	return Action{Kind: None}
}

func actionFor(count int, replayed bool) Action {
	if count > 0 {
		return Action{Kind: Announce, Count: count, Replayed: replayed}
	}
	return Action{Kind: Silence, Replayed: replayed}
}
