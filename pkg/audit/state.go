package audit

import (
	"fmt"
)

// State is the persistence state of a Trail
type State int

const (
	// StateUninitialized is a trail whose payload has not been read yet
	StateUninitialized State = iota
	// StateLoaded means the last persist wrote the full MaxLogs projection
	StateLoaded
	// StateDegradedHalf means only the newest MaxLogs/2 entries could be written
	StateDegradedHalf
	// StateDegradedEmpty means nothing could be written and the payload was cleared
	StateDegradedEmpty
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateLoaded:        "loaded",
	StateDegradedHalf:  "degraded_half",
	StateDegradedEmpty: "degraded_empty",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown trail state %q", text)
}

// Degraded reports whether the persisted projection is smaller than intended
func (s State) Degraded() bool {
	return s == StateDegradedHalf || s == StateDegradedEmpty
}

// persistEvent is the outcome of one step of the persistence sequence
type persistEvent int

const (
	// eventLoaded: the stored payload was read (or treated as empty)
	eventLoaded persistEvent = iota
	// eventFullWritten: the MaxLogs projection was stored
	eventFullWritten
	// eventHalfWritten: the full write failed, the MaxLogs/2 projection was stored
	eventHalfWritten
	// eventCleared: both writes failed and the payload was deleted
	eventCleared
)

func (e persistEvent) String() string {
	switch e {
	case eventLoaded:
		return "loaded"
	case eventFullWritten:
		return "full"
	case eventHalfWritten:
		return "half"
	case eventCleared:
		return "cleared"
	}
	return "unknown"
}

// next returns the state reached from s after event. Every state accepts
// every write outcome: a successful full write always returns to Loaded.
func (s State) next(event persistEvent) State {
	switch event {
	case eventLoaded:
		if s == StateUninitialized {
			return StateLoaded
		}
		return s
	case eventFullWritten:
		return StateLoaded
	case eventHalfWritten:
		return StateDegradedHalf
	case eventCleared:
		return StateDegradedEmpty
	}
	return s
}
