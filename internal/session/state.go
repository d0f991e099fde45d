package session

import "fmt"

// State is the session lifecycle state.
//
//	Starting → Running → Reloading → Swapping → Running (loop)
//	Running → Terminating → Stopped
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateReloading
	StateSwapping
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	case StateSwapping:
		return "swapping"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RestartPolicy says what to do when the active shell exits on its own
// (not as part of a reload).
type RestartPolicy int

const (
	// RestartNever ends the session, propagating the child's exit status.
	RestartNever RestartPolicy = iota
	// RestartAlways rebuilds and respawns the shell.
	RestartAlways
)

// MessageKind identifies a manager notification.
type MessageKind int

const (
	// MessageReloaded: the shell was rebuilt and swapped in.
	MessageReloaded MessageKind = iota
	// MessageBuildFailed: the builder failed; old shell untouched.
	MessageBuildFailed
	// MessageReloadFailed: the build succeeded but the new shell could
	// not be spawned; old shell untouched.
	MessageReloadFailed
)

// Message is a notification sent to the consumer about reload outcomes.
// Delivery is best-effort: messages are dropped when nobody is reading.
type Message struct {
	Kind  MessageKind
	Paths []string
	Err   error
}
