package config_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	configurationSubtestNameTemplateConstant = "%d_%s"
	auditPrefixConstant                      = "audit"
)

func TestDefaultAuditConfigIsValid(testInstance *testing.T) {
	defaults := config.DefaultAuditConfig()
	require.NoError(testInstance, defaults.Validate())
	require.Equal(testInstance, defaults, defaults.Sanitize())
	require.InDelta(testInstance, 0.95, defaults.Scoring.MinConfidence, 1e-9)
	require.InDelta(testInstance, 0.10, defaults.Scoring.CompletionBonus, 1e-9)
	require.Equal(testInstance, config.TieBreakMostRecent, defaults.Scoring.TieBreak)
	require.Len(testInstance, defaults.EnabledSources(), len(evidence.SourcesByTrust()))
}

func TestSanitizeRestoresOutOfRangeValues(testInstance *testing.T) {
	defaults := config.DefaultAuditConfig()

	testCases := []struct {
		name     string
		mutate   func(configuration *config.AuditConfig)
		validate func(testInstance *testing.T, sanitized config.AuditConfig)
	}{
		{
			name:   "min_confidence_above_one",
			mutate: func(configuration *config.AuditConfig) { configuration.Scoring.MinConfidence = 1.5 },
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, defaults.Scoring.MinConfidence, sanitized.Scoring.MinConfidence)
			},
		},
		{
			name: "thresholds_not_monotonic",
			mutate: func(configuration *config.AuditConfig) {
				configuration.Scoring.DeviationThresholds = config.DeviationThresholds{Critical: 0.1, High: 0.3, Medium: 0.05}
			},
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, defaults.Scoring.DeviationThresholds, sanitized.Scoring.DeviationThresholds)
			},
		},
		{
			name:   "tie_break_normalized",
			mutate: func(configuration *config.AuditConfig) { configuration.Scoring.TieBreak = " First_Collected " },
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, config.TieBreakFirstCollected, sanitized.Scoring.TieBreak)
			},
		},
		{
			name:   "tie_break_unknown",
			mutate: func(configuration *config.AuditConfig) { configuration.Scoring.TieBreak = "random" },
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, config.TieBreakMostRecent, sanitized.Scoring.TieBreak)
			},
		},
		{
			name: "timeouts_missing",
			mutate: func(configuration *config.AuditConfig) {
				configuration.Timeouts = config.TimeoutConfig{Pass: -time.Second}
			},
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, defaults.Timeouts, sanitized.Timeouts)
			},
		},
		{
			name: "enabled_collectors_trimmed",
			mutate: func(configuration *config.AuditConfig) {
				configuration.Collectors.Enabled = []string{" FileSystem ", "", "FileSystem", "AgentReport"}
			},
			validate: func(testInstance *testing.T, sanitized config.AuditConfig) {
				require.Equal(testInstance, []evidence.Source{evidence.SourceFileSystem, evidence.SourceAgentReport}, sanitized.EnabledSources())
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(configurationSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			configuration := config.DefaultAuditConfig()
			testCase.mutate(&configuration)
			testCase.validate(subTest, configuration.Sanitize())
		})
	}
}

func TestValidateRejectsUnknownSettings(testInstance *testing.T) {
	testCases := []struct {
		name   string
		mutate func(configuration *config.AuditConfig)
	}{
		{
			name:   "unknown_collector",
			mutate: func(configuration *config.AuditConfig) { configuration.Collectors.Enabled = []string{"Telepathy"} },
		},
		{
			name:   "no_collectors",
			mutate: func(configuration *config.AuditConfig) { configuration.Collectors.Enabled = nil },
		},
		{
			name:   "postgres_without_dsn",
			mutate: func(configuration *config.AuditConfig) { configuration.History.Backend = config.HistoryBackendPostgres },
		},
		{
			name:   "unknown_backend",
			mutate: func(configuration *config.AuditConfig) { configuration.History.Backend = "sqlite" },
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(configurationSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			configuration := config.DefaultAuditConfig()
			testCase.mutate(&configuration)
			require.Error(subTest, configuration.Sanitize().Validate())
		})
	}
}

func TestGradeAndWeight(testInstance *testing.T) {
	defaults := config.DefaultAuditConfig().Scoring

	testCases := []struct {
		deviation float64
		expected  evidence.Severity
	}{
		{deviation: 0.75, expected: evidence.SeverityCritical},
		{deviation: 0.5, expected: evidence.SeverityCritical},
		{deviation: 0.25, expected: evidence.SeverityHigh},
		{deviation: 0.1, expected: evidence.SeverityMedium},
		{deviation: 0.01, expected: evidence.SeverityLow},
	}
	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(configurationSubtestNameTemplateConstant, testCaseIndex, testCase.expected), func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, defaults.DeviationThresholds.Grade(testCase.deviation))
		})
	}

	require.InDelta(testInstance, 1.0, defaults.SeverityWeights.Weight(evidence.SeverityCritical), 1e-9)
	require.InDelta(testInstance, 0.05, defaults.SeverityWeights.Weight(evidence.SeverityLow), 1e-9)
	require.Zero(testInstance, defaults.SeverityWeights.Weight(evidence.Severity("Unknown")))
}

func TestEffectiveConcurrency(testInstance *testing.T) {
	configuration := config.DefaultAuditConfig()
	require.Equal(testInstance, 6, configuration.EffectiveConcurrency(6))
	require.Equal(testInstance, 7, configuration.EffectiveConcurrency(12))
	require.Equal(testInstance, 1, configuration.EffectiveConcurrency(0))

	configuration.Concurrency = 2
	require.Equal(testInstance, 2, configuration.EffectiveConcurrency(6))
}

func TestDefaultConfigurationValuesArePrefixed(testInstance *testing.T) {
	values := config.DefaultConfigurationValues(auditPrefixConstant)
	require.Equal(testInstance, 0.95, values["audit.scoring.min_confidence"])
	require.Equal(testInstance, "most_recent", values["audit.scoring.tie_break"])
	require.Equal(testInstance, "2m0s", values["audit.timeouts.pass"])
	for key := range values {
		require.Contains(testInstance, key, auditPrefixConstant+".")
	}
}
