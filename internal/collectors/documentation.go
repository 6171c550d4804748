package collectors

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	markdownHeadingPrefixConstant    = "#"
	markdownFencePrefixConstant      = "```"
	markdownTildeFencePrefixConstant = "~~~"
	documentationLogMessageConstant  = "documentation inventory collected"
	detailSectionsPerFileConstant    = "sectionsPerFile"
	maximumMarkdownLineBytesConstant = 1024 * 1024
)

// DocumentationCollector counts documentation files and their sections.
type DocumentationCollector struct {
	settings     config.DocumentationCollectorConfig
	fileSettings config.FileSystemCollectorConfig
	logger       *zap.Logger
	clock        func() time.Time
}

// NewDocumentationCollector constructs a documentation collector.
func NewDocumentationCollector(settings config.DocumentationCollectorConfig, fileSettings config.FileSystemCollectorConfig, logger *zap.Logger, clock func() time.Time) *DocumentationCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentationCollector{settings: settings, fileSettings: fileSettings, logger: logger, clock: clock}
}

// Source reports evidence.SourceDocumentation.
func (collector *DocumentationCollector) Source() evidence.Source {
	return evidence.SourceDocumentation
}

// Collect splits every documentation file on headings outside fenced code.
func (collector *DocumentationCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	files, walkError := walkTarget(evidence.SourceDocumentation, target.Directory, collector.fileSettings.ExcludedDirectories)
	if walkError != nil {
		return nil, walkError
	}

	var documentedFiles []string
	var sectionCount int64
	sectionsPerFile := map[string]int64{}
	for _, file := range files {
		if !hasExtension(file.relativePath, collector.settings.Extensions) {
			continue
		}
		sections, countError := countMarkdownSections(file.absolutePath)
		if countError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceDocumentation, countError)
		}
		documentedFiles = append(documentedFiles, file.relativePath)
		sectionsPerFile[file.relativePath] = sections
		sectionCount += sections
	}

	collector.logger.Debug(documentationLogMessageConstant,
		zap.String(logFieldDirectoryConstant, target.Directory),
		zap.Int(logFieldFileCountConstant, len(documentedFiles)),
	)

	return []evidence.Observation{{
		Source: evidence.SourceDocumentation,
		Type:   ObservationTypeDocumentationInventory,
		Facts: map[string]any{
			FactDocumentationFiles:    int64(len(documentedFiles)),
			FactDocumentationSections: sectionCount,
			FactDocumentedFiles:       stringList(documentedFiles),
		},
		Detail: map[string]any{
			detailSectionsPerFileConstant: sectionsPerFile,
		},
		CollectedAt: observedAt(collector.clock),
	}}, nil
}

// countMarkdownSections counts ATX headings, ignoring fenced code blocks.
func countMarkdownSections(path string) (int64, error) {
	file, openError := os.Open(path)
	if openError != nil {
		return 0, openError
	}
	defer file.Close()

	var sections int64
	insideFence := false
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maximumMarkdownLineBytesConstant)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, markdownFencePrefixConstant) || strings.HasPrefix(line, markdownTildeFencePrefixConstant) {
			insideFence = !insideFence
			continue
		}
		if insideFence || !strings.HasPrefix(line, markdownHeadingPrefixConstant) {
			continue
		}
		headingText := strings.TrimLeft(line, markdownHeadingPrefixConstant)
		if len(headingText) == 0 || strings.HasPrefix(headingText, " ") {
			sections++
		}
	}
	return sections, scanner.Err()
}
