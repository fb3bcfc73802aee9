package engine

import "fmt"

// State is the lifecycle state of an [Engine].
//
// Transitions are strictly sequential:
//
//	Idle → Starting → Running → Stopping → Idle
//	Starting → Idle (failed or aborted start)
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
