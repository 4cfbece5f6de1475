package hotpatch

import "fmt"

// State identifies a phase of the hot-patch session protocol.
type State string

const (
	StateSpawning  State = "SPAWNING"
	StateWaitReady State = "WAIT_READY"
	StateMutate    State = "MUTATE"
	StateWaitPatch State = "WAIT_PATCH"
	StateDone      State = "DONE"

	StateTimeout     State = "TIMEOUT"
	StateProcessDied State = "PROCESS_DIED"
	StateChannelLost State = "CHANNEL_LOST"
)

// ValidTransitions enumerates the legal state changes of a session.
// Terminal states have no successors.
var ValidTransitions = map[State][]State{
	StateSpawning:  {StateWaitReady},
	StateWaitReady: {StateMutate, StateTimeout, StateProcessDied, StateChannelLost},
	StateMutate:    {StateWaitPatch},
	StateWaitPatch: {StateDone, StateTimeout, StateProcessDied, StateChannelLost},

	StateDone:        {},
	StateTimeout:     {},
	StateProcessDied: {},
	StateChannelLost: {},
}

// IsValidTransition reports whether from -> to is a legal state change.
func IsValidTransition(from, to State) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the session.
func (s State) IsTerminal() bool {
	return len(ValidTransitions[s]) == 0
}

// transition moves the session to a new state, enforcing the table.
// A violation is an internal invariant failure, never an expected
// runtime condition.
func (s *session) transition(to State) error {
	if !IsValidTransition(s.state, to) {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
	}
	s.monitor.logger.Debug("Session state %s -> %s", s.state, to)
	s.state = to
	return nil
}
