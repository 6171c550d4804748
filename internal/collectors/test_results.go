package collectors

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/execshell"
)

const (
	goTestSubcommandConstant              = "test"
	goTestJSONFlagConstant                = "-json"
	testActionPassConstant                = "pass"
	testActionFailConstant                = "fail"
	testActionSkipConstant                = "skip"
	noTestSourceLogMessageConstant        = "no test report configured; no test evidence"
	testReportCollectedLogMessageConstant = "test results collected"
	testReportReadErrorTemplateConstant   = "unable to read test report %s: %w"
	emptyTestStreamMessageConstant        = "test run produced no events"
	detailFailedTestsConstant             = "failedTests"
	detailFailedPackagesConstant          = "failedPackages"
	detailReportConstant                  = "report"
	reportSourceRunConstant               = "go test -json"
	logFieldTestsTotalConstant            = "tests_total"
	maximumTestEventBytesConstant         = 1024 * 1024
)

// GoExecutor runs the go tool.
type GoExecutor interface {
	ExecuteGo(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// TestEvent is one record of the go test -json stream.
type TestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
}

// TestSummary aggregates a go test -json stream.
type TestSummary struct {
	Passed         int64
	Failed         int64
	Skipped        int64
	FailedTests    []string
	FailedPackages []string
}

// Total is the number of tests with a terminal result.
func (summary TestSummary) Total() int64 {
	return summary.Passed + summary.Failed + summary.Skipped
}

// Passing reports whether at least one test ran and nothing failed.
func (summary TestSummary) Passing() bool {
	return summary.Total() > 0 && summary.Failed == 0 && len(summary.FailedPackages) == 0
}

// ParseTestEvents summarizes a go test -json stream. Lines that are not JSON
// events, such as build output, are ignored.
func ParseTestEvents(stream string) TestSummary {
	summary := TestSummary{}
	failedPackages := map[string]struct{}{}
	scanner := bufio.NewScanner(strings.NewReader(stream))
	scanner.Buffer(make([]byte, 0, 64*1024), maximumTestEventBytesConstant)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var event TestEvent
		if json.Unmarshal([]byte(line), &event) != nil {
			continue
		}
		if len(event.Test) == 0 {
			if event.Action == testActionFailConstant {
				failedPackages[event.Package] = struct{}{}
			}
			continue
		}
		switch event.Action {
		case testActionPassConstant:
			summary.Passed++
		case testActionFailConstant:
			summary.Failed++
			summary.FailedTests = append(summary.FailedTests, event.Package+"."+event.Test)
		case testActionSkipConstant:
			summary.Skipped++
		}
	}
	for failedPackage := range failedPackages {
		summary.FailedPackages = append(summary.FailedPackages, failedPackage)
	}
	sort.Strings(summary.FailedPackages)
	sort.Strings(summary.FailedTests)
	return summary
}

// TestResultsCollector reads a go test -json report or runs the tests.
type TestResultsCollector struct {
	settings config.TestResultsCollectorConfig
	executor GoExecutor
	logger   *zap.Logger
	clock    func() time.Time
}

// NewTestResultsCollector constructs a test results collector.
func NewTestResultsCollector(settings config.TestResultsCollectorConfig, executor GoExecutor, logger *zap.Logger, clock func() time.Time) *TestResultsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestResultsCollector{settings: settings, executor: executor, logger: logger, clock: clock}
}

// Source reports evidence.SourceTestResults.
func (collector *TestResultsCollector) Source() evidence.Source {
	return evidence.SourceTestResults
}

// Collect summarizes the configured report, or a fresh run when enabled.
// With neither configured it yields no observations.
func (collector *TestResultsCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	var stream string
	var reportSource string
	switch {
	case len(collector.settings.ReportPath) > 0:
		reportPath := collector.settings.ReportPath
		if !filepath.IsAbs(reportPath) {
			reportPath = filepath.Join(target.Directory, reportPath)
		}
		content, readError := os.ReadFile(reportPath)
		if readError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceTestResults, fmt.Errorf(testReportReadErrorTemplateConstant, reportPath, readError))
		}
		stream = string(content)
		reportSource = reportPath
	case collector.settings.Run && collector.executor != nil:
		runOutput, runError := collector.runTests(executionContext, target)
		if runError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceTestResults, runError)
		}
		stream = runOutput
		reportSource = reportSourceRunConstant
	default:
		collector.logger.Info(noTestSourceLogMessageConstant, zap.String(logFieldDirectoryConstant, target.Directory))
		return nil, nil
	}

	summary := ParseTestEvents(stream)
	collector.logger.Debug(testReportCollectedLogMessageConstant,
		zap.String(logFieldPathConstant, reportSource),
		zap.Int64(logFieldTestsTotalConstant, summary.Total()),
	)

	return []evidence.Observation{{
		Source: evidence.SourceTestResults,
		Type:   ObservationTypeTestReport,
		Facts: map[string]any{
			FactTestsPassed:  summary.Passed,
			FactTestsFailed:  summary.Failed,
			FactTestsSkipped: summary.Skipped,
			FactTestsTotal:   summary.Total(),
			FactTestsPassing: summary.Passing(),
		},
		Detail: map[string]any{
			detailReportConstant:         reportSource,
			detailFailedTestsConstant:    nonNilStrings(summary.FailedTests),
			detailFailedPackagesConstant: nonNilStrings(summary.FailedPackages),
		},
		CollectedAt: observedAt(collector.clock),
	}}, nil
}

func (collector *TestResultsCollector) runTests(executionContext context.Context, target Target) (string, error) {
	arguments := append([]string{goTestSubcommandConstant, goTestJSONFlagConstant}, collector.settings.Packages...)
	result, executionError := collector.executor.ExecuteGo(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: target.Directory,
	})
	if executionError == nil {
		return result.StandardOutput, nil
	}
	var failedError execshell.CommandFailedError
	if errors.As(executionError, &failedError) && len(strings.TrimSpace(failedError.Result.StandardOutput)) > 0 {
		return failedError.Result.StandardOutput, nil
	}
	if errors.As(executionError, &failedError) {
		return "", errors.New(emptyTestStreamMessageConstant + ": " + failedError.Error())
	}
	return "", executionError
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
