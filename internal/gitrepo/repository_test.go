package gitrepo_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/execshell"
	"github.com/temirov/auditgate/internal/gitrepo"
)

const repositorySubtestTemplateConstant = "%d_%s"

type scriptedGitExecutor struct {
	responses map[string]execshell.ExecutionResult
	failures  map[string]error
	commands  []string
}

func (executor *scriptedGitExecutor) ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	commandLine := strings.Join(details.Arguments[2:], " ")
	executor.commands = append(executor.commands, commandLine)
	if failure, failed := executor.failures[commandLine]; failed {
		return execshell.ExecutionResult{}, failure
	}
	return executor.responses[commandLine], nil
}

func TestParseNameStatus(testInstance *testing.T) {
	changes, parseError := gitrepo.ParseNameStatus("A\tcmd/main.go\nM\tREADME.md\nD\told.txt\n")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, []gitrepo.FileChange{
		{Status: gitrepo.ChangeAdded, Path: "cmd/main.go"},
		{Status: gitrepo.ChangeModified, Path: "README.md"},
		{Status: gitrepo.ChangeDeleted, Path: "old.txt"},
	}, changes)

	_, malformedError := gitrepo.ParseNameStatus("garbage")
	require.Error(testInstance, malformedError)
}

func TestParseNumStat(testInstance *testing.T) {
	testCases := []struct {
		name        string
		output      string
		expected    []gitrepo.LineChange
		expectError bool
	}{
		{
			name:     "text_and_binary",
			output:   "12\t0\tmain.go\n-\t-\tlogo.png\n3\t4\tREADME.md\n",
			expected: []gitrepo.LineChange{{Path: "main.go", Added: 12}, {Path: "logo.png", Binary: true}, {Path: "README.md", Added: 3, Deleted: 4}},
		},
		{name: "empty", output: "\n"},
		{name: "malformed_counts", output: "x\t1\tmain.go", expectError: true},
		{name: "missing_path", output: "1\t2", expectError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(repositorySubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			changes, parseError := gitrepo.ParseNumStat(testCase.output)
			if testCase.expectError {
				require.Error(subTest, parseError)
				return
			}
			require.NoError(subTest, parseError)
			require.Equal(subTest, testCase.expected, changes)
		})
	}
}

func TestRepositoryInspectorCommitCount(testInstance *testing.T) {
	testCases := []struct {
		name          string
		base          string
		headMissing   bool
		expectedRange string
		expectedCount int
	}{
		{name: "empty_tree_counts_all", base: gitrepo.EmptyTreeHash, expectedRange: "rev-list --count HEAD", expectedCount: 5},
		{name: "base_range", base: "abc123", expectedRange: "rev-list --count abc123..HEAD", expectedCount: 5},
		{name: "no_commits", base: gitrepo.EmptyTreeHash, headMissing: true, expectedCount: 0},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(repositorySubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			executor := &scriptedGitExecutor{
				responses: map[string]execshell.ExecutionResult{
					"rev-list --count HEAD":         {StandardOutput: "5\n"},
					"rev-list --count abc123..HEAD": {StandardOutput: "5\n"},
				},
				failures: map[string]error{},
			}
			if testCase.headMissing {
				executor.failures["rev-parse --verify --quiet HEAD^{commit}"] = execshell.CommandFailedError{Result: execshell.ExecutionResult{ExitCode: 1}}
			}

			inspector, creationError := gitrepo.NewRepositoryInspector(executor)
			require.NoError(subTest, creationError)

			count, countError := inspector.CommitCount(context.Background(), "/work", testCase.base)
			require.NoError(subTest, countError)
			require.Equal(subTest, testCase.expectedCount, count)
			if len(testCase.expectedRange) > 0 {
				require.Contains(subTest, executor.commands, testCase.expectedRange)
			}
		})
	}
}

func TestRepositoryInspectorDetectsNonRepository(testInstance *testing.T) {
	executor := &scriptedGitExecutor{
		failures: map[string]error{
			"rev-parse --is-inside-work-tree": execshell.CommandFailedError{Result: execshell.ExecutionResult{ExitCode: 128}},
		},
	}
	inspector, creationError := gitrepo.NewRepositoryInspector(executor)
	require.NoError(testInstance, creationError)

	isRepository, inspectError := inspector.IsRepository(context.Background(), "/tmp/plain")
	require.NoError(testInstance, inspectError)
	require.False(testInstance, isRepository)

	base, resolveError := inspector.ResolveBase(context.Background(), "/tmp/plain", "  ")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, gitrepo.EmptyTreeHash, base)
}
