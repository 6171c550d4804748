package collectors

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	fileSystemCollectedLogMessageConstant = "file system inventory collected"
	detailClaimedPathsMissingConstant     = "claimedPathsMissing"
	detailLineCountErrorsConstant         = "unreadableFiles"
	logFieldFileCountConstant             = "file_count"
)

// FileSystemCollector inventories the target directory.
type FileSystemCollector struct {
	settings config.FileSystemCollectorConfig
	logger   *zap.Logger
	clock    func() time.Time
}

// NewFileSystemCollector constructs a file system collector.
func NewFileSystemCollector(settings config.FileSystemCollectorConfig, logger *zap.Logger, clock func() time.Time) *FileSystemCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemCollector{settings: settings, logger: logger, clock: clock}
}

// Source reports evidence.SourceFileSystem.
func (collector *FileSystemCollector) Source() evidence.Source {
	return evidence.SourceFileSystem
}

// Collect walks the target and reports file and line counts. Every file
// present in the target counts as created by the audited work.
func (collector *FileSystemCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	files, walkError := walkTarget(evidence.SourceFileSystem, target.Directory, collector.settings.ExcludedDirectories)
	if walkError != nil {
		return nil, walkError
	}

	relativePaths := make([]string, 0, len(files))
	var linesOfCode int64
	var unreadableFiles []string
	for _, file := range files {
		if contextError := executionContext.Err(); contextError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceFileSystem, contextError)
		}
		relativePaths = append(relativePaths, file.relativePath)
		if !hasExtension(file.relativePath, collector.settings.CodeExtensions) {
			continue
		}
		lineCount, countError := countLines(file.absolutePath)
		if countError != nil {
			if os.IsPermission(countError) {
				return nil, evidence.NewCollectionError(evidence.SourceFileSystem, countError)
			}
			unreadableFiles = append(unreadableFiles, file.relativePath)
			continue
		}
		linesOfCode += lineCount
	}

	detail := map[string]any{}
	if len(unreadableFiles) > 0 {
		detail[detailLineCountErrorsConstant] = unreadableFiles
	}
	if collectionContext.SelfCheck != nil {
		detail[detailClaimedPathsMissingConstant] = missingClaimedPaths(target.Directory, collectionContext.SelfCheck.Claim)
	}

	collector.logger.Debug(fileSystemCollectedLogMessageConstant,
		zap.String(logFieldDirectoryConstant, target.Directory),
		zap.Int(logFieldFileCountConstant, len(files)),
	)

	observation := evidence.Observation{
		Source: evidence.SourceFileSystem,
		Type:   ObservationTypeFileInventory,
		Facts: map[string]any{
			FactFilesCreated: int64(len(files)),
			FactFileCount:    int64(len(files)),
			FactLinesOfCode:  linesOfCode,
			FactFiles:        stringList(relativePaths),
		},
		CollectedAt: observedAt(collector.clock),
	}
	if len(detail) > 0 {
		observation.Detail = detail
	}
	return []evidence.Observation{observation}, nil
}

// missingClaimedPaths lists the claim's files entries absent from directory.
func missingClaimedPaths(directory string, claim evidence.Claim) []string {
	claimedFiles, isList := claim[FactFiles].([]any)
	if !isList {
		return []string{}
	}
	missing := []string{}
	for _, claimedFile := range claimedFiles {
		claimedPath, isString := claimedFile.(string)
		if !isString {
			continue
		}
		if _, statError := os.Stat(filepath.Join(directory, filepath.FromSlash(claimedPath))); statError != nil {
			missing = append(missing, claimedPath)
		}
	}
	return missing
}
