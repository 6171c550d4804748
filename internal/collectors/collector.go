package collectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/execshell"
	"github.com/temirov/auditgate/internal/gitrepo"
)

// Observation types emitted by the built-in collectors.
const (
	ObservationTypeFileInventory          = "file_inventory"
	ObservationTypeVersionControlChanges  = "vcs_changes"
	ObservationTypeTestReport             = "test_report"
	ObservationTypeStaticAnalysis         = "static_analysis"
	ObservationTypeDocumentationInventory = "documentation_inventory"
	ObservationTypeAgentReport            = "agent_report"
	ObservationTypeWorkingState           = "working_state"
)

// Fact keys shared by collectors and the reconciler.
const (
	FactFilesCreated          = "filesCreated"
	FactFilesModified         = "filesModified"
	FactFileCount             = "fileCount"
	FactLinesOfCode           = "linesOfCode"
	FactFiles                 = "files"
	FactCommitCount           = "commitCount"
	FactTestsPassed           = "testsPassed"
	FactTestsFailed           = "testsFailed"
	FactTestsSkipped          = "testsSkipped"
	FactTestsTotal            = "testsTotal"
	FactTestsPassing          = "testsPassing"
	FactPackageCount          = "packageCount"
	FactGoFileCount           = "goFileCount"
	FactFunctionCount         = "functionCount"
	FactTypeCount             = "typeCount"
	FactCompiles              = "compiles"
	FactTypeErrorCount        = "typeErrorCount"
	FactDocumentationFiles    = "documentationFiles"
	FactDocumentationSections = "documentationSections"
	FactDocumentedFiles       = "documentedFiles"
)

const (
	unknownCollectorTemplateConstant = "unknown collector %q"
	executorRequiredMessageConstant  = "collectors require a shell executor"
	logFieldPassConstant             = "pass"
	logFieldSourceConstant           = "source"
	logFieldDirectoryConstant        = "directory"
	logFieldPathConstant             = "path"
)

// Target identifies the audited unit of work.
type Target struct {
	TaskID    string
	Directory string
}

// SelfCheckInputs is what the executor itself asserted: its claim and its
// working state. Only Pass A collectors receive it.
type SelfCheckInputs struct {
	Claim        evidence.Claim
	WorkingState map[string]any
}

// CollectionContext scopes one collector invocation.
type CollectionContext struct {
	AuditID   string
	Pass      evidence.Pass
	SelfCheck *SelfCheckInputs
}

// Collector produces observations from one evidence source.
type Collector interface {
	Source() evidence.Source
	Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error)
}

// Factory builds the collector set for a pass. Every call returns fresh instances.
type Factory interface {
	Build(pass evidence.Pass) ([]Collector, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(pass evidence.Pass) ([]Collector, error)

// Build calls the function.
func (factoryFunc FactoryFunc) Build(pass evidence.Pass) ([]Collector, error) {
	return factoryFunc(pass)
}

// ShellExecutor is the subset of execshell.ShellExecutor collectors use.
type ShellExecutor interface {
	gitrepo.GitExecutor
	ExecuteGo(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ConfiguredFactory builds the enabled collectors from configuration.
type ConfiguredFactory struct {
	configuration config.AuditConfig
	executor      ShellExecutor
	logger        *zap.Logger
	clock         func() time.Time
}

// NewConfiguredFactory constructs a factory for the enabled collectors.
func NewConfiguredFactory(configuration config.AuditConfig, executor ShellExecutor, logger *zap.Logger) (*ConfiguredFactory, error) {
	if executor == nil {
		return nil, errors.New(executorRequiredMessageConstant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, source := range configuration.EnabledSources() {
		if !evidence.KnownSource(source) {
			return nil, fmt.Errorf(unknownCollectorTemplateConstant, source)
		}
	}
	return &ConfiguredFactory{configuration: configuration, executor: executor, logger: logger, clock: time.Now}, nil
}

// Build returns new collector instances for pass.
func (factory *ConfiguredFactory) Build(pass evidence.Pass) ([]Collector, error) {
	collectorLogger := factory.logger.With(zap.String(logFieldPassConstant, string(pass)))
	collectors := make([]Collector, 0, len(factory.configuration.Collectors.Enabled))
	for _, source := range factory.configuration.EnabledSources() {
		collector, buildError := factory.build(source, collectorLogger)
		if buildError != nil {
			return nil, buildError
		}
		collectors = append(collectors, collector)
	}
	return collectors, nil
}

func (factory *ConfiguredFactory) build(source evidence.Source, logger *zap.Logger) (Collector, error) {
	settings := factory.configuration.Collectors
	switch source {
	case evidence.SourceFileSystem:
		return NewFileSystemCollector(settings.FileSystem, logger, factory.clock), nil
	case evidence.SourceVersionControl:
		inspector, inspectorError := gitrepo.NewRepositoryInspector(factory.executor)
		if inspectorError != nil {
			return nil, inspectorError
		}
		return NewVersionControlCollector(settings.VersionControl, settings.FileSystem, inspector, logger, factory.clock), nil
	case evidence.SourceTestResults:
		return NewTestResultsCollector(settings.TestResults, factory.executor, logger, factory.clock), nil
	case evidence.SourceStaticAnalysis:
		return NewStaticAnalysisCollector(settings.StaticAnalysis, settings.FileSystem, logger, factory.clock), nil
	case evidence.SourceDocumentation:
		return NewDocumentationCollector(settings.Documentation, settings.FileSystem, logger, factory.clock), nil
	case evidence.SourceAgentReport:
		return NewAgentReportCollector(settings.AgentReport, logger, factory.clock), nil
	default:
		return nil, fmt.Errorf(unknownCollectorTemplateConstant, source)
	}
}

func observedAt(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock().UTC()
}
