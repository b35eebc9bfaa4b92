package workflow

// StateMachine enforces allowed status transitions for a status type.
type StateMachine[S comparable] struct {
	allowedTransitions map[S][]S
}

// NewStateMachine creates a state machine from an adjacency map. States that
// map to an empty slice are terminal.
func NewStateMachine[S comparable](transitions map[S][]S) *StateMachine[S] {
	copied := make(map[S][]S, len(transitions))
	for from, to := range transitions {
		copied[from] = append([]S(nil), to...)
	}
	return &StateMachine[S]{allowedTransitions: copied}
}

// CanTransition checks if a status transition is allowed.
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
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

// AllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine[S]) AllowedTransitions(from S) []S {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []S{}
	}
	return append([]S(nil), allowed...)
}

// IsTerminal reports whether no transition leaves the status.
func (sm *StateMachine[S]) IsTerminal(status S) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}
