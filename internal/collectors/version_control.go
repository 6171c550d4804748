package collectors

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/gitrepo"
)

const (
	notRepositoryLogMessageConstant           = "target is not a git working tree; no version control evidence"
	versionControlCollectedLogMessageConstant = "version control changes collected"
	detailBaseRevisionConstant                = "baseRevision"
	detailDeletedFilesConstant                = "deletedFiles"
	logFieldBaseRevisionConstant              = "base_revision"
)

// RepositoryInspector is the git inspection used by VersionControlCollector.
type RepositoryInspector interface {
	IsRepository(executionContext context.Context, directory string) (bool, error)
	ResolveBase(executionContext context.Context, directory string, configuredRevision string) (string, error)
	ChangedFiles(executionContext context.Context, directory string, base string) ([]gitrepo.FileChange, error)
	LineChanges(executionContext context.Context, directory string, base string) ([]gitrepo.LineChange, error)
	UntrackedFiles(executionContext context.Context, directory string) ([]string, error)
	TrackedFiles(executionContext context.Context, directory string) ([]string, error)
	CommitCount(executionContext context.Context, directory string, base string) (int, error)
}

// VersionControlCollector derives change facts from git.
type VersionControlCollector struct {
	settings     config.VersionControlCollectorConfig
	fileSettings config.FileSystemCollectorConfig
	inspector    RepositoryInspector
	logger       *zap.Logger
	clock        func() time.Time
}

// NewVersionControlCollector constructs a version control collector.
func NewVersionControlCollector(settings config.VersionControlCollectorConfig, fileSettings config.FileSystemCollectorConfig, inspector RepositoryInspector, logger *zap.Logger, clock func() time.Time) *VersionControlCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionControlCollector{settings: settings, fileSettings: fileSettings, inspector: inspector, logger: logger, clock: clock}
}

// Source reports evidence.SourceVersionControl.
func (collector *VersionControlCollector) Source() evidence.Source {
	return evidence.SourceVersionControl
}

// Collect compares the working tree with the base revision. Untracked files
// count as created. Targets outside a git working tree yield no observations.
func (collector *VersionControlCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	isRepository, inspectError := collector.inspector.IsRepository(executionContext, target.Directory)
	if inspectError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, inspectError)
	}
	if !isRepository {
		collector.logger.Info(notRepositoryLogMessageConstant, zap.String(logFieldDirectoryConstant, target.Directory))
		return nil, nil
	}

	base, baseError := collector.inspector.ResolveBase(executionContext, target.Directory, collector.settings.BaseRevision)
	if baseError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, baseError)
	}
	changes, changesError := collector.inspector.ChangedFiles(executionContext, target.Directory, base)
	if changesError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, changesError)
	}
	lineChanges, lineChangesError := collector.inspector.LineChanges(executionContext, target.Directory, base)
	if lineChangesError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, lineChangesError)
	}
	untrackedFiles, untrackedError := collector.inspector.UntrackedFiles(executionContext, target.Directory)
	if untrackedError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, untrackedError)
	}
	trackedFiles, trackedError := collector.inspector.TrackedFiles(executionContext, target.Directory)
	if trackedError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, trackedError)
	}
	commitCount, commitCountError := collector.inspector.CommitCount(executionContext, target.Directory, base)
	if commitCountError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceVersionControl, commitCountError)
	}

	var filesCreated, filesModified int64
	deletedFiles := map[string]struct{}{}
	for _, change := range changes {
		switch change.Status {
		case gitrepo.ChangeAdded:
			filesCreated++
		case gitrepo.ChangeModified, gitrepo.ChangeTypeChanged:
			filesModified++
		case gitrepo.ChangeDeleted:
			deletedFiles[change.Path] = struct{}{}
		}
	}
	filesCreated += int64(len(untrackedFiles))

	var linesOfCode int64
	for _, lineChange := range lineChanges {
		if lineChange.Binary || !hasExtension(lineChange.Path, collector.fileSettings.CodeExtensions) {
			continue
		}
		linesOfCode += int64(lineChange.Added)
	}
	for _, untrackedFile := range untrackedFiles {
		if !hasExtension(untrackedFile, collector.fileSettings.CodeExtensions) {
			continue
		}
		lineCount, countError := countLines(filepath.Join(target.Directory, filepath.FromSlash(untrackedFile)))
		if countError != nil {
			return nil, evidence.NewCollectionError(evidence.SourceVersionControl, countError)
		}
		linesOfCode += lineCount
	}

	presentFiles := make([]string, 0, len(trackedFiles)+len(untrackedFiles))
	for _, trackedFile := range trackedFiles {
		if _, deleted := deletedFiles[trackedFile]; deleted {
			continue
		}
		presentFiles = append(presentFiles, trackedFile)
	}
	presentFiles = append(presentFiles, untrackedFiles...)
	sort.Strings(presentFiles)

	deletedList := make([]string, 0, len(deletedFiles))
	for deletedFile := range deletedFiles {
		deletedList = append(deletedList, deletedFile)
	}
	sort.Strings(deletedList)

	collector.logger.Debug(versionControlCollectedLogMessageConstant,
		zap.String(logFieldDirectoryConstant, target.Directory),
		zap.String(logFieldBaseRevisionConstant, base),
	)

	return []evidence.Observation{{
		Source: evidence.SourceVersionControl,
		Type:   ObservationTypeVersionControlChanges,
		Facts: map[string]any{
			FactFilesCreated:  filesCreated,
			FactFilesModified: filesModified,
			FactLinesOfCode:   linesOfCode,
			FactCommitCount:   int64(commitCount),
			FactFiles:         stringList(presentFiles),
		},
		Detail: map[string]any{
			detailBaseRevisionConstant: base,
			detailDeletedFilesConstant: deletedList,
		},
		CollectedAt: observedAt(collector.clock),
	}}, nil
}
