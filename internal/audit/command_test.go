package audit_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/audit"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const auditCommandSubtestTemplateConstant = "%d_%s"

func executeCommand(testInstance *testing.T, command *cobra.Command, arguments ...string) (string, error) {
	testInstance.Helper()
	outputBuffer := &bytes.Buffer{}
	command.SetOut(outputBuffer)
	command.SetErr(outputBuffer)
	command.SetArgs(arguments)
	executionError := command.Execute()
	return outputBuffer.String(), executionError
}

func newAuditCommand(testInstance *testing.T, configuration config.AuditConfig, options audit.ServiceOptions) *cobra.Command {
	testInstance.Helper()
	builder := audit.CommandBuilder{
		LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() config.AuditConfig { return configuration },
		ColorProvider:         func() bool { return false },
		ServiceOptions:        options,
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	return command
}

func newLedgerCommand(testInstance *testing.T, configuration config.AuditConfig, options audit.ServiceOptions) *cobra.Command {
	testInstance.Helper()
	builder := audit.LedgerCommandBuilder{
		LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() config.AuditConfig { return configuration },
		ColorProvider:         func() bool { return false },
		ServiceOptions:        options,
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	return command
}

func writeClaimFile(testInstance *testing.T, content string) string {
	testInstance.Helper()
	claimPath := filepath.Join(testInstance.TempDir(), "claim.yaml")
	require.NoError(testInstance, os.WriteFile(claimPath, []byte(content), 0o600))
	return claimPath
}

func TestAuditCommandsRunShowAndList(testInstance *testing.T) {
	configuration := testConfiguration(testInstance)
	options := audit.ServiceOptions{Factory: stubFactory(evidence.SourceTestResults, map[string]any{"testsPassing": false})}
	claimPath := writeClaimFile(testInstance, "testsPassing: true\n")
	targetDirectory := testInstance.TempDir()

	runOutput, runError := executeCommand(testInstance, newAuditCommand(testInstance, configuration, options),
		"run", "--task-id", testTaskIDConstant, "--target", targetDirectory, "--claim", claimPath)
	var blockingError *audit.BlockingVerdictError
	require.ErrorAs(testInstance, runError, &blockingError)
	require.Equal(testInstance, evidence.AuditStatusCritical, blockingError.Status)
	require.Contains(testInstance, runOutput, "Critical  task "+testTaskIDConstant)
	require.Contains(testInstance, runOutput, "[Critical] testsPassing")

	testCases := []struct {
		name      string
		arguments []string
		verify    func(subTest *testing.T, output string)
	}{
		{
			name:      "show_json",
			arguments: []string{"show", testTaskIDConstant, "--output", "json"},
			verify: func(subTest *testing.T, output string) {
				var result evidence.AuditResult
				require.NoError(subTest, json.Unmarshal([]byte(output), &result))
				require.Equal(subTest, evidence.AuditStatusCritical, result.Status)
				require.Equal(subTest, testTaskIDConstant, result.TaskID)
			},
		},
		{
			name:      "show_history",
			arguments: []string{"show", testTaskIDConstant, "--history"},
			verify: func(subTest *testing.T, output string) {
				require.Contains(subTest, output, "Critical  task "+testTaskIDConstant)
			},
		},
		{
			name:      "list_by_status",
			arguments: []string{"list", "--status", "critical"},
			verify: func(subTest *testing.T, output string) {
				require.Contains(subTest, output, testTaskIDConstant)
				require.Contains(subTest, output, "page 1 of 1 results")
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(auditCommandSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			output, executionError := executeCommand(subTest, newAuditCommand(subTest, configuration, options), testCase.arguments...)
			require.NoError(subTest, executionError)
			testCase.verify(subTest, output)
		})
	}
}

func TestAuditCommandRejectsInvalidInput(testInstance *testing.T) {
	configuration := testConfiguration(testInstance)
	options := audit.ServiceOptions{Factory: stubFactory(evidence.SourceFileSystem, map[string]any{})}

	testCases := []struct {
		name      string
		arguments []string
	}{
		{name: "missing_claim", arguments: []string{"run", "--task-id", testTaskIDConstant}},
		{name: "malformed_claim", arguments: []string{"run", "--task-id", testTaskIDConstant, "--claim", writeClaimFile(testInstance, "nested:\n  key: 1\n")}},
		{name: "unknown_output", arguments: []string{"run", "--output", "yaml"}},
		{name: "unknown_status", arguments: []string{"list", "--status", "unknown"}},
		{name: "missing_result", arguments: []string{"show", "task-unknown"}},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(auditCommandSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			_, executionError := executeCommand(subTest, newAuditCommand(subTest, configuration, options), testCase.arguments...)
			require.Error(subTest, executionError)
		})
	}
}

func TestLedgerCommands(testInstance *testing.T) {
	configuration := testConfiguration(testInstance)
	options := audit.ServiceOptions{Factory: stubFactory(evidence.SourceFileSystem, map[string]any{"filesCreated": int64(1)})}

	emptyOutput, emptyError := executeCommand(testInstance, newLedgerCommand(testInstance, configuration, options), "verify")
	require.NoError(testInstance, emptyError)
	require.Contains(testInstance, emptyOutput, "ledger empty")

	_, runError := executeCommand(testInstance, newAuditCommand(testInstance, configuration, options),
		"run", "--task-id", testTaskIDConstant, "--target", testInstance.TempDir(), "--claim", writeClaimFile(testInstance, "filesCreated: 1\n"))
	require.NoError(testInstance, runError)

	verifyOutput, verifyError := executeCommand(testInstance, newLedgerCommand(testInstance, configuration, options), "verify")
	require.NoError(testInstance, verifyError)
	require.Contains(testInstance, verifyOutput, "ledger valid: 2 items")

	historyOutput, historyError := executeCommand(testInstance, newLedgerCommand(testInstance, configuration, options), "history", "--limit", "1", "--output", "json")
	require.NoError(testInstance, historyError)
	var items []evidence.Item
	require.NoError(testInstance, json.Unmarshal([]byte(historyOutput), &items))
	require.Len(testInstance, items, 1)

	tamperLedger(testInstance, configuration)
	brokenOutput, brokenError := executeCommand(testInstance, newLedgerCommand(testInstance, configuration, options), "verify")
	require.ErrorIs(testInstance, brokenError, audit.ErrLedgerIntegrity)
	require.Contains(testInstance, brokenOutput, "ledger broken")
}
