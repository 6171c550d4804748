package execshell_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/auditgate/internal/execshell"
)

const (
	testCommandArgumentConstant     = "--version"
	testWorkingDirectoryConstant    = "."
	testStandardErrorOutputConstant = "fatal: not a git repository"
	executorSubtestTemplateConstant = "%d_%s"
)

type recordingCommandRunner struct {
	executionResult  execshell.ExecutionResult
	executionError   error
	recordedCommands []execshell.ShellCommand
}

func (runner *recordingCommandRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.recordedCommands = append(runner.recordedCommands, command)
	return runner.executionResult, runner.executionError
}

type countingObserver struct {
	started   int
	completed int
	failed    int
}

func (observer *countingObserver) CommandStarted(execshell.ShellCommand) { observer.started++ }

func (observer *countingObserver) CommandCompleted(execshell.ShellCommand, execshell.ExecutionResult) {
	observer.completed++
}

func (observer *countingObserver) CommandExecutionFailed(execshell.ShellCommand, error) {
	observer.failed++
}

func TestShellExecutorInitializationValidation(testInstance *testing.T) {
	testCases := []struct {
		name        string
		logger      *zap.Logger
		runner      execshell.CommandRunner
		expectError error
	}{
		{name: "logger_validation", logger: nil, runner: &recordingCommandRunner{}, expectError: execshell.ErrLoggerNotConfigured},
		{name: "runner_validation", logger: zap.NewNop(), runner: nil, expectError: execshell.ErrCommandRunnerNotConfigured},
		{name: "successful_initialization", logger: zap.NewNop(), runner: &recordingCommandRunner{}},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(executorSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			executor, creationError := execshell.NewShellExecutor(testCase.logger, testCase.runner)
			if testCase.expectError == nil {
				require.NoError(subTest, creationError)
				require.NotNil(subTest, executor)
				return
			}
			require.ErrorIs(subTest, creationError, testCase.expectError)
		})
	}
}

func TestShellExecutorExecuteBehavior(testInstance *testing.T) {
	testCases := []struct {
		name              string
		runnerResult      execshell.ExecutionResult
		runnerError       error
		expectErrorType   any
		expectedCompleted int
		expectedFailed    int
	}{
		{
			name:              "success",
			runnerResult:      execshell.ExecutionResult{StandardOutput: "git version 2.43.0", ExitCode: 0},
			expectedCompleted: 1,
		},
		{
			name:              "failure_exit_code",
			runnerResult:      execshell.ExecutionResult{StandardError: testStandardErrorOutputConstant, ExitCode: 128},
			expectErrorType:   execshell.CommandFailedError{},
			expectedCompleted: 1,
		},
		{
			name:            "runner_error",
			runnerError:     errors.New("executable not found"),
			expectErrorType: execshell.CommandExecutionError{},
			expectedFailed:  1,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(executorSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			observerCore, observerLogs := observer.New(zap.DebugLevel)
			recordingRunner := &recordingCommandRunner{executionResult: testCase.runnerResult, executionError: testCase.runnerError}
			eventCounter := &countingObserver{}

			shellExecutor, creationError := execshell.NewShellExecutor(zap.New(observerCore), recordingRunner, eventCounter)
			require.NoError(subTest, creationError)

			details := execshell.CommandDetails{Arguments: []string{testCommandArgumentConstant}, WorkingDirectory: testWorkingDirectoryConstant}
			executionResult, executionError := shellExecutor.ExecuteGit(context.Background(), details)

			if testCase.expectErrorType != nil {
				require.Error(subTest, executionError)
				require.IsType(subTest, testCase.expectErrorType, executionError)
				require.Empty(subTest, executionResult.StandardOutput)
			} else {
				require.NoError(subTest, executionError)
				require.Equal(subTest, testCase.runnerResult.StandardOutput, executionResult.StandardOutput)
			}

			require.Len(subTest, observerLogs.All(), 2)
			require.Equal(subTest, 1, eventCounter.started)
			require.Equal(subTest, testCase.expectedCompleted, eventCounter.completed)
			require.Equal(subTest, testCase.expectedFailed, eventCounter.failed)
		})
	}
}

func TestCommandFailedErrorKeepsOutput(testInstance *testing.T) {
	recordingRunner := &recordingCommandRunner{executionResult: execshell.ExecutionResult{StandardOutput: `{"Action":"fail"}`, ExitCode: 1}}
	shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), recordingRunner)
	require.NoError(testInstance, creationError)

	_, executionError := shellExecutor.ExecuteGo(context.Background(), execshell.CommandDetails{Arguments: []string{"test", "-json", "./..."}})

	var failedError execshell.CommandFailedError
	require.ErrorAs(testInstance, executionError, &failedError)
	require.Equal(testInstance, `{"Action":"fail"}`, failedError.Result.StandardOutput)
	require.Equal(testInstance, execshell.CommandGo, recordingRunner.recordedCommands[0].Name)
	require.Equal(testInstance, "go test -json ./...", recordingRunner.recordedCommands[0].String())
}
