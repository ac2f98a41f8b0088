package pipeline

import "fmt"

// State of a transaction
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateRecognizing
	StateTranslating
	StateDelivering
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:        "Idle",
	StateCapturing:   "Capturing",
	StateRecognizing: "Recognizing",
	StateTranslating: "Translating",
	StateDelivering:  "Delivering",
	StateCompleted:   "Completed",
	StateFailed:      "Failed",
	StateCancelled:   "Cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether no further stage can run
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsActive reports whether the state occupies the transaction slot
func (s State) IsActive() bool {
	return s >= StateCapturing && s <= StateDelivering
}

// transitions lists every legal move; cancellation from active states is
// added in init.
var transitions = map[State][]State{
	StateIdle:        {StateCapturing},
	StateCapturing:   {StateRecognizing},
	StateRecognizing: {StateTranslating, StateFailed},
	StateTranslating: {StateDelivering, StateCompleted, StateFailed},
	StateDelivering:  {StateCompleted, StateFailed},
	StateCompleted:   {StateIdle},
	StateFailed:      {StateIdle},
	StateCancelled:   {StateIdle},
}

func init() {
	for s := StateCapturing; s <= StateDelivering; s++ {
		transitions[s] = append(transitions[s], StateCancelled)
	}
}

// CanTransition reports whether from → to is legal
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine holds the current state of one transaction
type machine struct {
	state State
}

// advance moves to the next state or fails with InvalidTransition
func (m *machine) advance(to State) error {
	if !CanTransition(m.state, to) {
		return Errorf(KindInvalidTransition, "%s -> %s", m.state, to)
	}
	m.state = to
	return nil
}
