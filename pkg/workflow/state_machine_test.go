package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type phase string

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine(map[phase][]phase{
		"DRAFT":     {"SUBMITTED", "CANCELLED"},
		"SUBMITTED": {"DONE", "CANCELLED"},
		"DONE":      {},
		"CANCELLED": {},
	})

	assert.True(t, sm.CanTransition("DRAFT", "SUBMITTED"))
	assert.False(t, sm.CanTransition("DRAFT", "DONE"))
	assert.False(t, sm.CanTransition("UNKNOWN", "DONE"))
	assert.True(t, sm.IsTerminal("DONE"))
	assert.False(t, sm.IsTerminal("SUBMITTED"))
	assert.False(t, sm.IsTerminal("UNKNOWN"))
	assert.ElementsMatch(t, []phase{"DONE", "CANCELLED"}, sm.AllowedTransitions("SUBMITTED"))
	assert.Empty(t, sm.AllowedTransitions("UNKNOWN"))
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	sm := NewStateMachine(map[phase][]phase{"A": {"B"}})
	next := sm.AllowedTransitions("A")
	next[0] = "Z"

	assert.True(t, sm.CanTransition("A", "B"))
}
