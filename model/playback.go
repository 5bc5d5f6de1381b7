package model

import "fmt"

// Phase is the playback controller's state.
type Phase int

const (
	// PhaseRunning advances one point per tick. A freshly mounted or reset
	// controller is running at index 0 ("idle at start").
	PhaseRunning Phase = iota
	// PhasePaused holds the current index; no tick is armed.
	PhasePaused
	// PhaseComplete is terminal until reset; the vehicle sits on the end
	// location.
	PhaseComplete
)

// String returns the lower-case phase name used on the wire.
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "running":
		*p = PhaseRunning
	case "paused":
		*p = PhasePaused
	case "complete":
		*p = PhaseComplete
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// PlaybackState is a snapshot of a controller.
type PlaybackState struct {
	CurrentIndex int   `json:"current_index"`
	Phase        Phase `json:"phase"`
	IsMoving     bool  `json:"is_moving"`
	IsPaused     bool  `json:"is_paused"`
	IsComplete   bool  `json:"is_complete"`
	// Ticks counts index advances since the last reset.
	Ticks int `json:"ticks"`
}

// AtStart reports the "idle at start" condition: running on index 0.
func (s PlaybackState) AtStart() bool {
	return s.Phase == PhaseRunning && s.CurrentIndex == 0
}
