package router

import "errors"

var (
	// ErrInit wraps every initialization failure returned by Start.
	ErrInit = errors.New("router init failed")
	// ErrShutDown is returned by operations on a router that was shut down.
	ErrShutDown = errors.New("router shut down")
	// ErrBadState is returned for a lifecycle transition that is not allowed.
	ErrBadState = errors.New("invalid router state")
)

// State is the router lifecycle state.
//
//	UNSTARTED -> INITIALIZING -> READY <-> PAUSED -> SHUT_DOWN
//	                         \-> ERROR -> INITIALIZING (retry)
type State int32

const (
	StateUnstarted State = iota
	StateInitializing
	StateReady
	StatePaused
	StateShutDown
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateShutDown:
		return "shut_down"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Accepting reports whether Submit enqueues in this state.
func (s State) Accepting() bool { return s == StateReady || s == StatePaused }

// StateChange is the payload of eventbus.TypeState events.
type StateChange struct {
	From State  `json:"from"`
	To   State  `json:"to"`
	Err  string `json:"err,omitempty"`
}
