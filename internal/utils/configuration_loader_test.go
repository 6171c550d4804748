package utils_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/utils"
)

const (
	testEnvironmentPrefixConstant                     = "TESTAUDITGATE"
	testLogLevelKeyConstant                           = "common.log_level"
	testPassTimeoutKeyConstant                        = "audit.timeouts.pass"
	testEnabledKeyConstant                            = "audit.collectors.enabled"
	testDefaultLogLevelConstant                       = "info"
	testEmbeddedLogLevelConstant                      = "debug"
	testFileLogLevelConstant                          = "warn"
	testEnvironmentLogLevelConstant                   = "error"
	testConfigFileNameConstant                        = "config.yaml"
	testConfigContentTemplateConstant                 = "common:\n  log_level: %s\n"
	testConfigurationNameConstant                     = "config"
	testConfigurationTypeConstant                     = "yaml"
	configurationLoaderSubtestNameTemplateConstant    = "%d_%s"
	testUserConfigurationDirectoryNameConstant        = "auditgate"
	testCaseSearchPathWorkingDirectoryMessageConstant = "searches_working_directory"
	testCaseSearchPathHomeDirectoryMessageConstant    = "searches_user_configuration_directory"
)

type configurationFixture struct {
	Common configurationCommonFixture `mapstructure:"common"`
	Audit  configurationAuditFixture  `mapstructure:"audit"`
}

type configurationCommonFixture struct {
	LogLevel string `mapstructure:"log_level"`
}

type configurationAuditFixture struct {
	Timeouts   configurationTimeoutsFixture   `mapstructure:"timeouts"`
	Collectors configurationCollectorsFixture `mapstructure:"collectors"`
}

type configurationTimeoutsFixture struct {
	Pass time.Duration `mapstructure:"pass"`
}

type configurationCollectorsFixture struct {
	Enabled []string `mapstructure:"enabled"`
}

func fixtureDefaults() map[string]any {
	return map[string]any{
		testLogLevelKeyConstant:    testDefaultLogLevelConstant,
		testPassTimeoutKeyConstant: "2m",
		testEnabledKeyConstant:     []string{"FileSystem"},
	}
}

func TestConfigurationLoaderLoadConfiguration(testInstance *testing.T) {
	testCases := []struct {
		name                string
		embeddedLogLevel    string
		fileLogLevel        string
		environmentLogLevel string
		expectedLogLevel    string
	}{
		{name: "defaults_apply", expectedLogLevel: testDefaultLogLevelConstant},
		{name: "embedded_overrides_defaults", embeddedLogLevel: testEmbeddedLogLevelConstant, expectedLogLevel: testEmbeddedLogLevelConstant},
		{name: "file_overrides_embedded", embeddedLogLevel: testEmbeddedLogLevelConstant, fileLogLevel: testFileLogLevelConstant, expectedLogLevel: testFileLogLevelConstant},
		{name: "environment_overrides_file", embeddedLogLevel: testEmbeddedLogLevelConstant, fileLogLevel: testFileLogLevelConstant, environmentLogLevel: testEnvironmentLogLevelConstant, expectedLogLevel: testEnvironmentLogLevelConstant},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(configurationLoaderSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			tempDirectory := subTest.TempDir()
			configurationFilePath := ""
			if len(testCase.fileLogLevel) > 0 {
				configurationFilePath = filepath.Join(tempDirectory, testConfigFileNameConstant)
				configurationContent := fmt.Sprintf(testConfigContentTemplateConstant, testCase.fileLogLevel)
				require.NoError(subTest, os.WriteFile(configurationFilePath, []byte(configurationContent), 0o600))
			}
			if len(testCase.environmentLogLevel) > 0 {
				subTest.Setenv(testEnvironmentPrefixConstant+"_COMMON_LOG_LEVEL", testCase.environmentLogLevel)
			}

			configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{tempDirectory})
			if len(testCase.embeddedLogLevel) > 0 {
				configurationLoader.SetEmbeddedConfiguration([]byte(fmt.Sprintf(testConfigContentTemplateConstant, testCase.embeddedLogLevel)), testConfigurationTypeConstant)
			}

			loadedConfiguration := configurationFixture{}
			metadata, loadError := configurationLoader.LoadConfiguration(configurationFilePath, fixtureDefaults(), &loadedConfiguration)
			require.NoError(subTest, loadError)
			require.Equal(subTest, testCase.expectedLogLevel, loadedConfiguration.Common.LogLevel)
			require.Equal(subTest, configurationFilePath, metadata.ConfigFileUsed)
		})
	}
}

func TestConfigurationLoaderDecodesDurationsAndLists(testInstance *testing.T) {
	testInstance.Setenv(testEnvironmentPrefixConstant+"_AUDIT_TIMEOUTS_PASS", "45s")
	testInstance.Setenv(testEnvironmentPrefixConstant+"_AUDIT_COLLECTORS_ENABLED", "FileSystem,VersionControl")

	configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{testInstance.TempDir()})
	loadedConfiguration := configurationFixture{}
	_, loadError := configurationLoader.LoadConfiguration("", fixtureDefaults(), &loadedConfiguration)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, 45*time.Second, loadedConfiguration.Audit.Timeouts.Pass)
	require.Equal(testInstance, []string{"FileSystem", "VersionControl"}, loadedConfiguration.Audit.Collectors.Enabled)
}

func TestConfigurationLoaderRejectsMissingExplicitFile(testInstance *testing.T) {
	configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, nil)
	missingPath := filepath.Join(testInstance.TempDir(), "absent.yaml")
	_, loadError := configurationLoader.LoadConfiguration(missingPath, fixtureDefaults(), &configurationFixture{})
	require.Error(testInstance, loadError)
}

func TestConfigurationLoaderSearchPaths(testInstance *testing.T) {
	testCases := []struct {
		name                         string
		configurationDirectorySelect func(workingDirectoryPath string, userConfigurationDirectoryPath string) string
	}{
		{
			name: testCaseSearchPathWorkingDirectoryMessageConstant,
			configurationDirectorySelect: func(workingDirectoryPath string, userConfigurationDirectoryPath string) string {
				return workingDirectoryPath
			},
		},
		{
			name: testCaseSearchPathHomeDirectoryMessageConstant,
			configurationDirectorySelect: func(workingDirectoryPath string, userConfigurationDirectoryPath string) string {
				return userConfigurationDirectoryPath
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(configurationLoaderSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			workingDirectoryPath := subTest.TempDir()
			userConfigurationDirectoryPath := filepath.Join(subTest.TempDir(), testUserConfigurationDirectoryNameConstant)
			require.NoError(subTest, os.MkdirAll(userConfigurationDirectoryPath, 0o755))

			selectedDirectory := testCase.configurationDirectorySelect(workingDirectoryPath, userConfigurationDirectoryPath)
			configurationFilePath := filepath.Join(selectedDirectory, testConfigFileNameConstant)
			configurationContent := fmt.Sprintf(testConfigContentTemplateConstant, testFileLogLevelConstant)
			require.NoError(subTest, os.WriteFile(configurationFilePath, []byte(configurationContent), 0o600))

			configurationLoader := utils.NewConfigurationLoader(
				testConfigurationNameConstant,
				testConfigurationTypeConstant,
				testEnvironmentPrefixConstant,
				[]string{workingDirectoryPath, userConfigurationDirectoryPath},
			)

			loadedConfiguration := configurationFixture{}
			metadata, loadError := configurationLoader.LoadConfiguration("", fixtureDefaults(), &loadedConfiguration)
			require.NoError(subTest, loadError)
			require.Equal(subTest, testFileLogLevelConstant, loadedConfiguration.Common.LogLevel)
			require.Equal(subTest, configurationFilePath, metadata.ConfigFileUsed)
		})
	}
}
