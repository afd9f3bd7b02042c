package compositor

import "fmt"

// State is the lifecycle position of a compositor run.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateScheduled
	StatePlaying
	StateDrawnToEnd
	StateFinalizing
	StateStopped
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRecording:  "recording",
	StateScheduled:  "scheduled",
	StatePlaying:    "playing",
	StateDrawnToEnd: "drawn_to_end",
	StateFinalizing: "finalizing",
	StateStopped:    "stopped",
	StateAborted:    "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateAborted
}

var transitions = map[State][]State{
	StateIdle:       {StateRecording},
	StateRecording:  {StateScheduled, StateFinalizing},
	StateScheduled:  {StatePlaying},
	StatePlaying:    {StateDrawnToEnd},
	StateDrawnToEnd: {StateScheduled, StateFinalizing},
	StateFinalizing: {StateStopped},
}

// CanTransition reports whether from -> to is allowed. Aborted is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if to == StateAborted {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (c *Compositor) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.state = to
	return nil
}

// State returns the current lifecycle state.
func (c *Compositor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
