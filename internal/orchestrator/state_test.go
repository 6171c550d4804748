package orchestrator_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/orchestrator"
)

const orchestratorSubtestTemplateConstant = "%d_%s"

func TestStateMachineTransitions(testInstance *testing.T) {
	settledPass := evidence.VerificationPass{Label: evidence.PassA, Status: evidence.PassStatusDegraded}
	runningPass := evidence.VerificationPass{Label: evidence.PassA, Status: evidence.PassStatusRunning}

	testCases := []struct {
		name          string
		setup         []orchestrator.State
		from          orchestrator.State
		to            orchestrator.State
		prerequisites []evidence.VerificationPass
		expectError   bool
	}{
		{name: "idle_to_pass_a", from: orchestrator.StateIdle, to: orchestrator.StatePassA},
		{name: "idle_cannot_skip_to_pass_b", from: orchestrator.StateIdle, to: orchestrator.StatePassB, expectError: true},
		{name: "wrong_expected_state", from: orchestrator.StatePassA, to: orchestrator.StatePassB, expectError: true},
		{
			name:          "pass_b_after_degraded_pass_a",
			setup:         []orchestrator.State{orchestrator.StatePassA},
			from:          orchestrator.StatePassA,
			to:            orchestrator.StatePassB,
			prerequisites: []evidence.VerificationPass{settledPass},
		},
		{
			name:          "pass_b_requires_settled_pass_a",
			setup:         []orchestrator.State{orchestrator.StatePassA},
			from:          orchestrator.StatePassA,
			to:            orchestrator.StatePassB,
			prerequisites: []evidence.VerificationPass{runningPass},
			expectError:   true,
		},
		{
			name:          "abort_ignores_prerequisites",
			setup:         []orchestrator.State{orchestrator.StatePassA},
			from:          orchestrator.StatePassA,
			to:            orchestrator.StateAborted,
			prerequisites: []evidence.VerificationPass{runningPass},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(orchestratorSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			machine := orchestrator.NewStateMachine()
			previous := orchestrator.StateIdle
			for _, next := range testCase.setup {
				require.NoError(subTest, machine.Transition(previous, next))
				previous = next
			}
			transitionError := machine.Transition(testCase.from, testCase.to, testCase.prerequisites...)
			if testCase.expectError {
				require.Error(subTest, transitionError)
				require.Equal(subTest, previous, machine.Current())
				return
			}
			require.NoError(subTest, transitionError)
			require.Equal(subTest, testCase.to, machine.Current())
		})
	}
}

func TestStateMachineAbortIsTerminal(testInstance *testing.T) {
	machine := orchestrator.NewStateMachine()
	require.NoError(testInstance, machine.Transition(orchestrator.StateIdle, orchestrator.StatePassA))
	machine.Abort()
	machine.Abort()
	require.Equal(testInstance, []orchestrator.State{orchestrator.StateIdle, orchestrator.StatePassA, orchestrator.StateAborted}, machine.History())
	require.True(testInstance, orchestrator.IsTerminal(machine.Current()))
	require.Error(testInstance, machine.Transition(orchestrator.StateAborted, orchestrator.StatePassB))
}

func testCaseName(index int, name string) string {
	return fmt.Sprintf(orchestratorSubtestTemplateConstant, index, name)
}
