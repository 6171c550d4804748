package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/config"
)

const (
	applicationSubtestTemplateConstant = "%d_%s"
	testConfigurationTemplateConstant  = "common:\n  log_level: %s\n  log_format: console\naudit:\n  storage:\n    state_directory: %s\n  scoring:\n    min_confidence: 0.8\n"
)

func writeConfigurationFile(testInstance *testing.T, logLevel string, stateDirectory string) string {
	testInstance.Helper()
	configurationPath := filepath.Join(testInstance.TempDir(), "config.yaml")
	content := fmt.Sprintf(testConfigurationTemplateConstant, logLevel, stateDirectory)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o600))
	return configurationPath
}

func executeApplication(testInstance *testing.T, arguments ...string) (*Application, string, error) {
	testInstance.Helper()
	application := NewApplication()
	outputBuffer := &bytes.Buffer{}
	application.rootCommand.SetOut(outputBuffer)
	application.rootCommand.SetErr(&bytes.Buffer{})
	application.rootCommand.SetArgs(arguments)
	executionError := application.Execute()
	return application, outputBuffer.String(), executionError
}

func TestApplicationEmbeddedDefaults(testInstance *testing.T) {
	application := NewApplication()
	require.NoError(testInstance, application.initializeConfiguration(application.rootCommand))

	defaults := config.DefaultAuditConfig()
	loaded := application.configuration.Audit
	require.Equal(testInstance, "info", application.configuration.Common.LogLevel)
	require.Equal(testInstance, "structured", application.configuration.Common.LogFormat)
	require.InDelta(testInstance, defaults.Scoring.MinConfidence, loaded.Scoring.MinConfidence, 1e-9)
	require.Equal(testInstance, defaults.Scoring.TieBreak, loaded.Scoring.TieBreak)
	require.Equal(testInstance, 2*time.Minute, loaded.Timeouts.Pass)
	require.Equal(testInstance, defaults.Collectors.Enabled, loaded.Collectors.Enabled)
	require.Equal(testInstance, defaults.Collectors.TestResults.Packages, loaded.Collectors.TestResults.Packages)
	require.Equal(testInstance, defaults.History, loaded.History)
	require.Equal(testInstance, defaults.Server.ListenAddress, loaded.Server.ListenAddress)

	contextConfiguration := application.commandContextAccessor.AuditConfiguration(application.rootCommand.Context())
	require.Equal(testInstance, loaded.Server, contextConfiguration.Server)
}

func TestApplicationConfigurationLayers(testInstance *testing.T) {
	stateDirectory := testInstance.TempDir()
	configurationPath := writeConfigurationFile(testInstance, "warn", stateDirectory)
	testInstance.Setenv("AUDITGATE_AUDIT_TIMEOUTS_PASS", "45s")

	application := NewApplication()
	require.NoError(testInstance, application.rootCommand.PersistentFlags().Set(configFileFlagNameConstant, configurationPath))
	require.NoError(testInstance, application.rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "debug"))
	require.NoError(testInstance, application.initializeConfiguration(application.rootCommand))

	require.Equal(testInstance, "debug", application.configuration.Common.LogLevel)
	require.Equal(testInstance, "console", application.configuration.Common.LogFormat)
	require.Equal(testInstance, stateDirectory, application.configuration.Audit.Storage.StateDirectory)
	require.InDelta(testInstance, 0.8, application.configuration.Audit.Scoring.MinConfidence, 1e-9)
	require.Equal(testInstance, 45*time.Second, application.configuration.Audit.Timeouts.Pass)
	require.Equal(testInstance, configurationPath, application.configurationMetadata.ConfigFileUsed)

	configuredPath, found := application.commandContextAccessor.ConfigurationFilePath(application.rootCommand.Context())
	require.True(testInstance, found)
	require.Equal(testInstance, configurationPath, configuredPath)
}

func TestApplicationCommands(testInstance *testing.T) {
	stateDirectory := testInstance.TempDir()
	configurationPath := writeConfigurationFile(testInstance, "error", stateDirectory)

	testCases := []struct {
		name             string
		arguments        []string
		environment      map[string]string
		expectError      bool
		expectedFragment string
	}{
		{
			name:             "ledger_verify_on_empty_ledger",
			arguments:        []string{"--config", configurationPath, "ledger", "verify"},
			expectedFragment: "ledger empty",
		},
		{
			name:             "audit_list_json",
			arguments:        []string{"--config", configurationPath, "audit", "list", "--output", "json"},
			expectedFragment: `"total": 0`,
		},
		{
			name:        "postgres_without_dsn",
			arguments:   []string{"--config", configurationPath, "ledger", "verify"},
			environment: map[string]string{"AUDITGATE_AUDIT_HISTORY_BACKEND": "postgres"},
			expectError: true,
		},
		{
			name:        "unknown_log_format",
			arguments:   []string{"--log-format", "xml", "ledger", "verify"},
			expectError: true,
		},
		{
			name:        "missing_configuration_file",
			arguments:   []string{"--config", filepath.Join(stateDirectory, "absent.yaml"), "ledger", "verify"},
			expectError: true,
		},
		{
			name:             "version",
			arguments:        []string{"--version"},
			expectedFragment: "auditgate version",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(applicationSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			for environmentName, environmentValue := range testCase.environment {
				subTest.Setenv(environmentName, environmentValue)
			}
			_, output, executionError := executeApplication(subTest, testCase.arguments...)
			if testCase.expectError {
				require.Error(subTest, executionError)
				return
			}
			require.NoError(subTest, executionError)
			require.Contains(subTest, output, testCase.expectedFragment)
		})
	}
}

func TestApplicationRegistersCommandTree(testInstance *testing.T) {
	application := NewApplication()
	var names []string
	for _, command := range application.rootCommand.Commands() {
		names = append(names, command.Name())
	}
	require.Subset(testInstance, names, []string{"audit", "ledger", "serve"})
}
