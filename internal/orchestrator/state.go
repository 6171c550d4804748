package orchestrator

import (
	"fmt"
	"sync"

	"github.com/temirov/auditgate/internal/evidence"
)

// State is a stage of the audit lifecycle.
type State string

// Audit lifecycle states.
const (
	StateIdle        State = "Idle"
	StatePassA       State = "PassA"
	StatePassB       State = "PassB"
	StatePassC       State = "PassC"
	StateReconciling State = "Reconciling"
	StateComplete    State = "Complete"
	StateAborted     State = "Aborted"
)

const (
	disallowedTransitionTemplateConstant = "disallowed audit transition: %s -> %s"
	unexpectedStateTemplateConstant      = "invalid audit transition: expected %s, got %s"
	unsettledPassTemplateConstant        = "cannot enter %s: pass %s is %s"
)

var allowedTransitions = map[State][]State{
	StateIdle:        {StatePassA, StateAborted},
	StatePassA:       {StatePassB, StateAborted},
	StatePassB:       {StatePassC, StateAborted},
	StatePassC:       {StateReconciling, StateAborted},
	StateReconciling: {StateComplete, StateAborted},
}

// IsTerminal reports whether the audit has finished.
func IsTerminal(state State) bool {
	return state == StateComplete || state == StateAborted
}

// StateMachine tracks one audit's lifecycle and rejects out-of-order moves.
type StateMachine struct {
	mutex   sync.Mutex
	current State
	history []State
}

// NewStateMachine starts in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateIdle, history: []State{StateIdle}}
}

// Current returns the present state.
func (machine *StateMachine) Current() State {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	return machine.current
}

// History lists every state entered, in order.
func (machine *StateMachine) History() []State {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	return append([]State{}, machine.history...)
}

// Transition moves from the expected state to the next one. Every
// prerequisite pass must have settled as Complete or Degraded.
func (machine *StateMachine) Transition(from State, to State, prerequisites ...evidence.VerificationPass) error {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	if machine.current != from {
		return fmt.Errorf(unexpectedStateTemplateConstant, from, machine.current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf(disallowedTransitionTemplateConstant, from, to)
	}
	if to != StateAborted {
		for _, prerequisite := range prerequisites {
			if !prerequisite.Status.Terminal() {
				return fmt.Errorf(unsettledPassTemplateConstant, to, prerequisite.Label, prerequisite.Status)
			}
		}
	}
	machine.current = to
	machine.history = append(machine.history, to)
	return nil
}

// Abort moves any non-terminal state to StateAborted.
func (machine *StateMachine) Abort() {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	if IsTerminal(machine.current) {
		return
	}
	machine.current = StateAborted
	machine.history = append(machine.history, StateAborted)
}

func isAllowedTransition(from State, to State) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
