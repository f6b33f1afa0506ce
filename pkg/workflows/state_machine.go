package workflows

import "sync"

// State is a named state in a StateMachine
type State string

// StateMachine enforces transitions between named states and tracks the current one.
// It is safe for concurrent use.
type StateMachine struct {
	mu                 sync.Mutex
	current            State
	allowedTransitions map[State][]State
}

// NewStateMachine creates a new state machine starting in initial with the given allowed transitions
func NewStateMachine(initial State, transitions map[State][]State) *StateMachine {
	allowed := make(map[State][]State, len(transitions))
	for from, to := range transitions {
		allowed[from] = append([]State(nil), to...)
	}
	return &StateMachine{
		current:            initial,
		allowedTransitions: allowed,
	}
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// CanTransition checks if a transition is allowed
func (sm *StateMachine) CanTransition(from, to State) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// TryTransition atomically moves from -> to. It reports false when the machine is not
// in from or the transition is not allowed.
func (sm *StateMachine) TryTransition(from, to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current != from || !sm.CanTransition(from, to) {
		return false
	}
	sm.current = to
	return true
}
