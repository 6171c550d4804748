package collectors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	agentReportMissingLogMessageConstant  = "agent report not found; no self-report evidence"
	agentReportLogMessageConstant         = "agent report collected"
	agentReportParseErrorTemplateConstant = "unable to parse agent report %s: %w"
	flattenedKeySeparatorConstant         = "."
	detailReportPathConstant              = "reportPath"
	logFieldFactCountConstant             = "fact_count"
)

// AgentReportCollector reads the executor's self-report. It is the least
// trusted source.
type AgentReportCollector struct {
	settings config.AgentReportCollectorConfig
	logger   *zap.Logger
	clock    func() time.Time
}

// NewAgentReportCollector constructs an agent report collector.
func NewAgentReportCollector(settings config.AgentReportCollectorConfig, logger *zap.Logger, clock func() time.Time) *AgentReportCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentReportCollector{settings: settings, logger: logger, clock: clock}
}

// Source reports evidence.SourceAgentReport.
func (collector *AgentReportCollector) Source() evidence.Source {
	return evidence.SourceAgentReport
}

// Collect flattens the YAML or JSON self-report into facts. During the
// self-check pass the executor's working state is reported as well.
func (collector *AgentReportCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	var observations []evidence.Observation

	reportPath := collector.settings.Path
	if !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(target.Directory, reportPath)
	}
	content, readError := os.ReadFile(reportPath)
	switch {
	case errors.Is(readError, fs.ErrNotExist):
		collector.logger.Info(agentReportMissingLogMessageConstant, zap.String(logFieldPathConstant, reportPath))
	case readError != nil:
		return nil, evidence.NewCollectionError(evidence.SourceAgentReport, readError)
	default:
		var document map[string]any
		if parseError := yaml.Unmarshal(content, &document); parseError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceAgentReport, fmt.Errorf(agentReportParseErrorTemplateConstant, reportPath, parseError))
		}
		facts := FlattenFacts(document)
		collector.logger.Debug(agentReportLogMessageConstant,
			zap.String(logFieldPathConstant, reportPath),
			zap.Int(logFieldFactCountConstant, len(facts)),
		)
		observations = append(observations, evidence.Observation{
			Source:      evidence.SourceAgentReport,
			Type:        ObservationTypeAgentReport,
			Facts:       facts,
			Detail:      map[string]any{detailReportPathConstant: reportPath},
			CollectedAt: observedAt(collector.clock),
		})
	}

	if collectionContext.SelfCheck != nil && len(collectionContext.SelfCheck.WorkingState) > 0 {
		observations = append(observations, evidence.Observation{
			Source:      evidence.SourceAgentReport,
			Type:        ObservationTypeWorkingState,
			Facts:       FlattenFacts(collectionContext.SelfCheck.WorkingState),
			CollectedAt: observedAt(collector.clock),
		})
	}
	return observations, nil
}

// FlattenFacts keeps scalar and scalar-list values and flattens nested
// mappings into dotted keys. Unsigned integers beyond the int64 range are
// dropped.
func FlattenFacts(document map[string]any) map[string]any {
	facts := map[string]any{}
	flattenInto(facts, "", document)
	return facts
}

func flattenInto(facts map[string]any, prefix string, document map[string]any) {
	keys := make([]string, 0, len(document))
	for key := range document {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		qualifiedKey := key
		if len(prefix) > 0 {
			qualifiedKey = prefix + flattenedKeySeparatorConstant + key
		}
		switch typed := document[key].(type) {
		case map[string]any:
			flattenInto(facts, qualifiedKey, typed)
		case []any:
			scalars := make([]any, 0, len(typed))
			for _, element := range typed {
				if scalar, isScalar := scalarFact(element); isScalar {
					scalars = append(scalars, scalar)
				}
			}
			facts[qualifiedKey] = scalars
		default:
			if scalar, isScalar := scalarFact(typed); isScalar {
				facts[qualifiedKey] = scalar
			}
		}
	}
}

func scalarFact(value any) (any, bool) {
	switch typed := value.(type) {
	case bool, string, float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case uint64:
		if typed > math.MaxInt64 {
			return nil, false
		}
		return int64(typed), true
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return nil, false
		}
		return int64(typed), true
	default:
		return nil, false
	}
}
