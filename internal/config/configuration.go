package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/temirov/auditgate/internal/evidence"
)

// TieBreak selects between equal-trust sources that disagree.
type TieBreak string

// Supported tie-break policies.
const (
	TieBreakMostRecent     TieBreak = "most_recent"
	TieBreakFirstCollected TieBreak = "first_collected"
)

// HistoryBackend selects the verdict history store.
type HistoryBackend string

// Supported history backends.
const (
	HistoryBackendFile     HistoryBackend = "file"
	HistoryBackendPostgres HistoryBackend = "postgres"
)

const (
	defaultMinConfidenceConstant           = 0.95
	defaultCompletionBonusConstant         = 0.10
	defaultCriticalWeightConstant          = 1.0
	defaultHighWeightConstant              = 0.5
	defaultMediumWeightConstant            = 0.2
	defaultLowWeightConstant               = 0.05
	defaultCriticalDeviationConstant       = 0.5
	defaultHighDeviationConstant           = 0.2
	defaultMediumDeviationConstant         = 0.05
	defaultPassTimeoutConstant             = 2 * time.Minute
	defaultCollectorTimeoutConstant        = time.Minute
	defaultAuditDeadlineConstant           = 10 * time.Minute
	defaultStateDirectoryConstant          = ".auditgate"
	defaultAgentReportPathConstant         = ".auditgate/agent-report.yaml"
	defaultHistoryTableConstant            = "audit_results"
	defaultListenAddressConstant           = "127.0.0.1:8787"
	maximumDefaultConcurrencyConstant      = 7
	ledgerDirectoryNameConstant            = "ledger"
	historyFileNameConstant                = "history.jsonl"
	unknownCollectorErrorTemplateConstant  = "unknown collector %q in collectors.enabled"
	unknownBackendErrorTemplateConstant    = "unknown history backend %q"
	missingPostgresDSNErrorMessageConstant = "history.postgres_dsn is required for the postgres backend"
	noCollectorsErrorMessageConstant       = "collectors.enabled must list at least one collector"
)

// AuditConfig captures every tunable of the audit engine.
type AuditConfig struct {
	Scoring     ScoringConfig    `mapstructure:"scoring"`
	Timeouts    TimeoutConfig    `mapstructure:"timeouts"`
	Concurrency int              `mapstructure:"concurrency"`
	Collectors  CollectorsConfig `mapstructure:"collectors"`
	Storage     StorageConfig    `mapstructure:"storage"`
	History     HistoryConfig    `mapstructure:"history"`
	Server      ServerConfig     `mapstructure:"server"`
}

// ScoringConfig parameterizes the confidence scorer.
type ScoringConfig struct {
	MinConfidence       float64             `mapstructure:"min_confidence"`
	CompletionBonus     float64             `mapstructure:"completion_bonus"`
	SeverityWeights     SeverityWeights     `mapstructure:"severity_weights"`
	DeviationThresholds DeviationThresholds `mapstructure:"deviation_thresholds"`
	TieBreak            TieBreak            `mapstructure:"tie_break"`
}

// SeverityWeights maps severities to score penalties.
type SeverityWeights struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
	Low      float64 `mapstructure:"low"`
}

// Weight returns the penalty for severity; unknown severities weigh nothing.
func (weights SeverityWeights) Weight(severity evidence.Severity) float64 {
	switch severity {
	case evidence.SeverityCritical:
		return weights.Critical
	case evidence.SeverityHigh:
		return weights.High
	case evidence.SeverityMedium:
		return weights.Medium
	case evidence.SeverityLow:
		return weights.Low
	default:
		return 0
	}
}

// DeviationThresholds are the minimum relative deviations for each severity.
// Deviations below Medium grade as Low.
type DeviationThresholds struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
}

// Grade maps a relative deviation to a severity.
func (thresholds DeviationThresholds) Grade(deviation float64) evidence.Severity {
	switch {
	case deviation >= thresholds.Critical:
		return evidence.SeverityCritical
	case deviation >= thresholds.High:
		return evidence.SeverityHigh
	case deviation >= thresholds.Medium:
		return evidence.SeverityMedium
	default:
		return evidence.SeverityLow
	}
}

// TimeoutConfig bounds collector calls, passes, and the whole audit.
type TimeoutConfig struct {
	Pass          time.Duration `mapstructure:"pass"`
	Collector     time.Duration `mapstructure:"collector"`
	AuditDeadline time.Duration `mapstructure:"audit_deadline"`
}

// CollectorsConfig selects and parameterizes evidence collectors.
type CollectorsConfig struct {
	Enabled        []string                      `mapstructure:"enabled"`
	FileSystem     FileSystemCollectorConfig     `mapstructure:"file_system"`
	VersionControl VersionControlCollectorConfig `mapstructure:"version_control"`
	TestResults    TestResultsCollectorConfig    `mapstructure:"test_results"`
	StaticAnalysis StaticAnalysisCollectorConfig `mapstructure:"static_analysis"`
	Documentation  DocumentationCollectorConfig  `mapstructure:"documentation"`
	AgentReport    AgentReportCollectorConfig    `mapstructure:"agent_report"`
}

// FileSystemCollectorConfig controls the directory walk.
type FileSystemCollectorConfig struct {
	ExcludedDirectories []string `mapstructure:"excluded_directories"`
	CodeExtensions      []string `mapstructure:"code_extensions"`
}

// VersionControlCollectorConfig controls git inspection.
type VersionControlCollectorConfig struct {
	BaseRevision string `mapstructure:"base_revision"`
}

// TestResultsCollectorConfig selects a go test -json report or a test run.
type TestResultsCollectorConfig struct {
	ReportPath string   `mapstructure:"report_path"`
	Run        bool     `mapstructure:"run"`
	Packages   []string `mapstructure:"packages"`
}

// StaticAnalysisCollectorConfig controls package loading.
type StaticAnalysisCollectorConfig struct {
	Patterns     []string `mapstructure:"patterns"`
	IncludeTests bool     `mapstructure:"include_tests"`
}

// DocumentationCollectorConfig lists documentation file extensions.
type DocumentationCollectorConfig struct {
	Extensions []string `mapstructure:"extensions"`
}

// AgentReportCollectorConfig locates the executor's self-report.
type AgentReportCollectorConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig locates persistent engine state.
type StorageConfig struct {
	StateDirectory string `mapstructure:"state_directory"`
}

// LedgerDirectory is where ledger records and payload blobs live.
func (storage StorageConfig) LedgerDirectory() string {
	return filepath.Join(storage.StateDirectory, ledgerDirectoryNameConstant)
}

// HistoryFilePath is the JSONL verdict history used by the file backend.
func (storage StorageConfig) HistoryFilePath() string {
	return filepath.Join(storage.StateDirectory, historyFileNameConstant)
}

// HistoryConfig selects the verdict history backend.
type HistoryConfig struct {
	Backend     HistoryBackend `mapstructure:"backend"`
	PostgresDSN string         `mapstructure:"postgres_dsn"`
	Table       string         `mapstructure:"table"`
}

// ServerConfig configures the HTTP read API.
type ServerConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// DefaultAuditConfig returns the baseline configuration.
func DefaultAuditConfig() AuditConfig {
	enabled := make([]string, 0, len(evidence.SourcesByTrust()))
	for _, source := range evidence.SourcesByTrust() {
		enabled = append(enabled, string(source))
	}
	return AuditConfig{
		Scoring: ScoringConfig{
			MinConfidence:   defaultMinConfidenceConstant,
			CompletionBonus: defaultCompletionBonusConstant,
			SeverityWeights: SeverityWeights{
				Critical: defaultCriticalWeightConstant,
				High:     defaultHighWeightConstant,
				Medium:   defaultMediumWeightConstant,
				Low:      defaultLowWeightConstant,
			},
			DeviationThresholds: DeviationThresholds{
				Critical: defaultCriticalDeviationConstant,
				High:     defaultHighDeviationConstant,
				Medium:   defaultMediumDeviationConstant,
			},
			TieBreak: TieBreakMostRecent,
		},
		Timeouts: TimeoutConfig{
			Pass:          defaultPassTimeoutConstant,
			Collector:     defaultCollectorTimeoutConstant,
			AuditDeadline: defaultAuditDeadlineConstant,
		},
		Concurrency: 0,
		Collectors: CollectorsConfig{
			Enabled: enabled,
			FileSystem: FileSystemCollectorConfig{
				ExcludedDirectories: []string{".git", defaultStateDirectoryConstant, "node_modules", "vendor"},
				CodeExtensions:      []string{".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".h", ".cpp", ".rb", ".sh", ".sql"},
			},
			TestResults: TestResultsCollectorConfig{
				Packages: []string{"./..."},
			},
			StaticAnalysis: StaticAnalysisCollectorConfig{
				Patterns: []string{"./..."},
			},
			Documentation: DocumentationCollectorConfig{
				Extensions: []string{".md", ".markdown"},
			},
			AgentReport: AgentReportCollectorConfig{
				Path: defaultAgentReportPathConstant,
			},
		},
		Storage: StorageConfig{StateDirectory: defaultStateDirectoryConstant},
		History: HistoryConfig{Backend: HistoryBackendFile, Table: defaultHistoryTableConstant},
		Server:  ServerConfig{ListenAddress: defaultListenAddressConstant},
	}
}

// DefaultConfigurationValues flattens DefaultAuditConfig into viper default
// keys nested under prefix.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultAuditConfig()
	key := func(name string) string {
		if len(prefix) == 0 {
			return name
		}
		return prefix + "." + name
	}
	return map[string]any{
		key("scoring.min_confidence"):                      defaults.Scoring.MinConfidence,
		key("scoring.completion_bonus"):                    defaults.Scoring.CompletionBonus,
		key("scoring.severity_weights.critical"):           defaults.Scoring.SeverityWeights.Critical,
		key("scoring.severity_weights.high"):               defaults.Scoring.SeverityWeights.High,
		key("scoring.severity_weights.medium"):             defaults.Scoring.SeverityWeights.Medium,
		key("scoring.severity_weights.low"):                defaults.Scoring.SeverityWeights.Low,
		key("scoring.deviation_thresholds.critical"):       defaults.Scoring.DeviationThresholds.Critical,
		key("scoring.deviation_thresholds.high"):           defaults.Scoring.DeviationThresholds.High,
		key("scoring.deviation_thresholds.medium"):         defaults.Scoring.DeviationThresholds.Medium,
		key("scoring.tie_break"):                           string(defaults.Scoring.TieBreak),
		key("timeouts.pass"):                               defaults.Timeouts.Pass.String(),
		key("timeouts.collector"):                          defaults.Timeouts.Collector.String(),
		key("timeouts.audit_deadline"):                     defaults.Timeouts.AuditDeadline.String(),
		key("concurrency"):                                 defaults.Concurrency,
		key("collectors.enabled"):                          defaults.Collectors.Enabled,
		key("collectors.file_system.excluded_directories"): defaults.Collectors.FileSystem.ExcludedDirectories,
		key("collectors.file_system.code_extensions"):      defaults.Collectors.FileSystem.CodeExtensions,
		key("collectors.version_control.base_revision"):    defaults.Collectors.VersionControl.BaseRevision,
		key("collectors.test_results.report_path"):         defaults.Collectors.TestResults.ReportPath,
		key("collectors.test_results.run"):                 defaults.Collectors.TestResults.Run,
		key("collectors.test_results.packages"):            defaults.Collectors.TestResults.Packages,
		key("collectors.static_analysis.patterns"):         defaults.Collectors.StaticAnalysis.Patterns,
		key("collectors.static_analysis.include_tests"):    defaults.Collectors.StaticAnalysis.IncludeTests,
		key("collectors.documentation.extensions"):         defaults.Collectors.Documentation.Extensions,
		key("collectors.agent_report.path"):                defaults.Collectors.AgentReport.Path,
		key("storage.state_directory"):                     defaults.Storage.StateDirectory,
		key("history.backend"):                             string(defaults.History.Backend),
		key("history.postgres_dsn"):                        defaults.History.PostgresDSN,
		key("history.table"):                               defaults.History.Table,
		key("server.listen_address"):                       defaults.Server.ListenAddress,
	}
}

// Sanitize trims values and replaces out-of-range settings with defaults.
func (configuration AuditConfig) Sanitize() AuditConfig {
	defaults := DefaultAuditConfig()
	sanitized := configuration

	if sanitized.Scoring.MinConfidence <= 0 || sanitized.Scoring.MinConfidence > 1 {
		sanitized.Scoring.MinConfidence = defaults.Scoring.MinConfidence
	}
	if sanitized.Scoring.CompletionBonus < 0 || sanitized.Scoring.CompletionBonus > 1 {
		sanitized.Scoring.CompletionBonus = defaults.Scoring.CompletionBonus
	}
	weights := sanitized.Scoring.SeverityWeights
	if weights.Critical <= 0 || weights.High < 0 || weights.Medium < 0 || weights.Low < 0 {
		sanitized.Scoring.SeverityWeights = defaults.Scoring.SeverityWeights
	}
	thresholds := sanitized.Scoring.DeviationThresholds
	if thresholds.Medium <= 0 || thresholds.High < thresholds.Medium || thresholds.Critical < thresholds.High {
		sanitized.Scoring.DeviationThresholds = defaults.Scoring.DeviationThresholds
	}
	switch TieBreak(strings.ToLower(strings.TrimSpace(string(sanitized.Scoring.TieBreak)))) {
	case TieBreakFirstCollected:
		sanitized.Scoring.TieBreak = TieBreakFirstCollected
	default:
		sanitized.Scoring.TieBreak = TieBreakMostRecent
	}

	if sanitized.Timeouts.Pass <= 0 {
		sanitized.Timeouts.Pass = defaults.Timeouts.Pass
	}
	if sanitized.Timeouts.Collector <= 0 {
		sanitized.Timeouts.Collector = defaults.Timeouts.Collector
	}
	if sanitized.Timeouts.AuditDeadline <= 0 {
		sanitized.Timeouts.AuditDeadline = defaults.Timeouts.AuditDeadline
	}
	if sanitized.Concurrency < 0 {
		sanitized.Concurrency = 0
	}

	sanitized.Collectors.Enabled = sanitizeList(sanitized.Collectors.Enabled)
	sanitized.Collectors.FileSystem.ExcludedDirectories = sanitizeList(sanitized.Collectors.FileSystem.ExcludedDirectories)
	sanitized.Collectors.FileSystem.CodeExtensions = sanitizeList(sanitized.Collectors.FileSystem.CodeExtensions)
	sanitized.Collectors.VersionControl.BaseRevision = strings.TrimSpace(sanitized.Collectors.VersionControl.BaseRevision)
	sanitized.Collectors.TestResults.ReportPath = strings.TrimSpace(sanitized.Collectors.TestResults.ReportPath)
	sanitized.Collectors.TestResults.Packages = sanitizeList(sanitized.Collectors.TestResults.Packages)
	if len(sanitized.Collectors.TestResults.Packages) == 0 {
		sanitized.Collectors.TestResults.Packages = defaults.Collectors.TestResults.Packages
	}
	sanitized.Collectors.StaticAnalysis.Patterns = sanitizeList(sanitized.Collectors.StaticAnalysis.Patterns)
	if len(sanitized.Collectors.StaticAnalysis.Patterns) == 0 {
		sanitized.Collectors.StaticAnalysis.Patterns = defaults.Collectors.StaticAnalysis.Patterns
	}
	sanitized.Collectors.Documentation.Extensions = sanitizeList(sanitized.Collectors.Documentation.Extensions)
	if len(sanitized.Collectors.Documentation.Extensions) == 0 {
		sanitized.Collectors.Documentation.Extensions = defaults.Collectors.Documentation.Extensions
	}
	sanitized.Collectors.AgentReport.Path = strings.TrimSpace(sanitized.Collectors.AgentReport.Path)
	if len(sanitized.Collectors.AgentReport.Path) == 0 {
		sanitized.Collectors.AgentReport.Path = defaults.Collectors.AgentReport.Path
	}

	sanitized.Storage.StateDirectory = strings.TrimSpace(sanitized.Storage.StateDirectory)
	if len(sanitized.Storage.StateDirectory) == 0 {
		sanitized.Storage.StateDirectory = defaults.Storage.StateDirectory
	}
	sanitized.History.Backend = HistoryBackend(strings.ToLower(strings.TrimSpace(string(sanitized.History.Backend))))
	if len(sanitized.History.Backend) == 0 {
		sanitized.History.Backend = defaults.History.Backend
	}
	sanitized.History.PostgresDSN = strings.TrimSpace(sanitized.History.PostgresDSN)
	sanitized.History.Table = strings.TrimSpace(sanitized.History.Table)
	if len(sanitized.History.Table) == 0 {
		sanitized.History.Table = defaults.History.Table
	}
	sanitized.Server.ListenAddress = strings.TrimSpace(sanitized.Server.ListenAddress)
	if len(sanitized.Server.ListenAddress) == 0 {
		sanitized.Server.ListenAddress = defaults.Server.ListenAddress
	}

	return sanitized
}

// Validate reports settings that cannot be repaired by Sanitize.
func (configuration AuditConfig) Validate() error {
	if len(configuration.Collectors.Enabled) == 0 {
		return errors.New(noCollectorsErrorMessageConstant)
	}
	for _, collectorName := range configuration.Collectors.Enabled {
		if !evidence.KnownSource(evidence.Source(collectorName)) {
			return fmt.Errorf(unknownCollectorErrorTemplateConstant, collectorName)
		}
	}
	switch configuration.History.Backend {
	case HistoryBackendFile:
	case HistoryBackendPostgres:
		if len(configuration.History.PostgresDSN) == 0 {
			return errors.New(missingPostgresDSNErrorMessageConstant)
		}
	default:
		return fmt.Errorf(unknownBackendErrorTemplateConstant, configuration.History.Backend)
	}
	return nil
}

// EnabledSources returns the enabled collectors as sources, in configuration order.
func (configuration AuditConfig) EnabledSources() []evidence.Source {
	sources := make([]evidence.Source, 0, len(configuration.Collectors.Enabled))
	for _, collectorName := range configuration.Collectors.Enabled {
		sources = append(sources, evidence.Source(collectorName))
	}
	return sources
}

// EffectiveConcurrency returns the worker pool size for a pass dispatching
// collectorCount collectors.
func (configuration AuditConfig) EffectiveConcurrency(collectorCount int) int {
	if configuration.Concurrency > 0 {
		return configuration.Concurrency
	}
	if collectorCount > maximumDefaultConcurrencyConstant {
		return maximumDefaultConcurrencyConstant
	}
	if collectorCount < 1 {
		return 1
	}
	return collectorCount
}

func sanitizeList(values []string) []string {
	sanitized := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if len(trimmed) == 0 {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		sanitized = append(sanitized, trimmed)
	}
	return sanitized
}
