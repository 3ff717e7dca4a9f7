package trigger

import "fmt"

// Kind enumerates what a tick asks the outside world to do
type Kind int

const (
	None Kind = iota
	Announce
	Silence
)

// String returns the lower-case name of the kind
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Announce:
		return "announce"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}

// Action is the result of one evaluation tick
type Action struct {
	Kind  Kind `json:"kind"`
	Count int  `json:"count"` // 1..5 for Announce, 0 for Silence

	// Replayed marks an action that was suppressed by the cooldown earlier
	Replayed bool `json:"replayed,omitempty"`
	// Suppressed marks a None produced by a commit inside the cooldown window
	Suppressed bool `json:"suppressed,omitempty"`
}

// IsNone reports whether nothing should be played or stopped
func (a Action) IsNone() bool {
	return a.Kind == None
}

// String formats the action for logs, e.g. "announce(2)"
func (a Action) String() string {
	switch a.Kind {
	case Announce:
		if a.Replayed {
			return fmt.Sprintf("announce(%d, replayed)", a.Count)
		}
		return fmt.Sprintf("announce(%d)", a.Count)
	case Silence:
		if a.Replayed {
			return "silence(replayed)"
		}
		return "silence"
	default:
		if a.Suppressed {
			return fmt.Sprintf("none(suppressed %d)", a.Count)
		}
		return "none"
	}
}
