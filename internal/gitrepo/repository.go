package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/temirov/auditgate/internal/execshell"
)

// EmptyTreeHash is the object id of the empty tree, used as the base when no
// base revision is configured or the repository has no commits.
const EmptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

const (
	gitConfigFlagConstant               = "-c"
	gitQuotePathOffConstant             = "core.quotepath=off"
	gitRevParseSubcommandConstant       = "rev-parse"
	gitInsideWorkTreeFlagConstant       = "--is-inside-work-tree"
	gitVerifyFlagConstant               = "--verify"
	gitQuietFlagConstant                = "--quiet"
	gitCommitSuffixConstant             = "^{commit}"
	gitHeadReferenceConstant            = "HEAD"
	gitDiffSubcommandConstant           = "diff"
	gitRelativeFlagConstant             = "--relative"
	gitNameStatusFlagConstant           = "--name-status"
	gitNumStatFlagConstant              = "--numstat"
	gitNoRenamesFlagConstant            = "--no-renames"
	gitLsFilesSubcommandConstant        = "ls-files"
	gitOthersFlagConstant               = "--others"
	gitExcludeStandardFlagConstant      = "--exclude-standard"
	gitRevListSubcommandConstant        = "rev-list"
	gitCountFlagConstant                = "--count"
	gitTrueOutputConstant               = "true"
	binaryNumStatMarkerConstant         = "-"
	revisionRangeTemplateConstant       = "%s..%s"
	executorRequiredMessageConstant     = "git executor must be provided"
	malformedNameStatusTemplateConstant = "malformed name-status line %q"
	malformedNumStatTemplateConstant    = "malformed numstat line %q"
	unresolvedRevisionTemplateConstant  = "unable to resolve base revision %q: %w"
	commitCountParseTemplateConstant    = "unable to parse commit count %q: %w"
)

// ChangeStatus is the single-letter git change status.
type ChangeStatus string

// Change statuses reported by git diff --name-status.
const (
	ChangeAdded       ChangeStatus = "A"
	ChangeModified    ChangeStatus = "M"
	ChangeDeleted     ChangeStatus = "D"
	ChangeTypeChanged ChangeStatus = "T"
)

// FileChange is one path changed relative to the base.
type FileChange struct {
	Status ChangeStatus
	Path   string
}

// LineChange is the numstat entry for one path.
type LineChange struct {
	Path    string
	Added   int
	Deleted int
	Binary  bool
}

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RepositoryInspector answers questions about a working tree.
type RepositoryInspector struct {
	executor GitExecutor
}

// NewRepositoryInspector constructs an inspector.
func NewRepositoryInspector(executor GitExecutor) (*RepositoryInspector, error) {
	if executor == nil {
		return nil, errors.New(executorRequiredMessageConstant)
	}
	return &RepositoryInspector{executor: executor}, nil
}

// IsRepository reports whether directory is inside a git working tree.
func (inspector *RepositoryInspector) IsRepository(executionContext context.Context, directory string) (bool, error) {
	result, executionError := inspector.run(executionContext, directory, gitRevParseSubcommandConstant, gitInsideWorkTreeFlagConstant)
	if executionError != nil {
		var failedError execshell.CommandFailedError
		if errors.As(executionError, &failedError) {
			return false, nil
		}
		return false, executionError
	}
	return strings.TrimSpace(result.StandardOutput) == gitTrueOutputConstant, nil
}

// ResolveBase returns the commit id of configuredRevision, or EmptyTreeHash
// when no revision is configured.
func (inspector *RepositoryInspector) ResolveBase(executionContext context.Context, directory string, configuredRevision string) (string, error) {
	trimmedRevision := strings.TrimSpace(configuredRevision)
	if len(trimmedRevision) == 0 {
		return EmptyTreeHash, nil
	}
	result, executionError := inspector.run(executionContext, directory, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, trimmedRevision+gitCommitSuffixConstant)
	if executionError != nil {
		return "", fmt.Errorf(unresolvedRevisionTemplateConstant, trimmedRevision, executionError)
	}
	return strings.TrimSpace(result.StandardOutput), nil
}

// HasCommits reports whether HEAD resolves to a commit.
func (inspector *RepositoryInspector) HasCommits(executionContext context.Context, directory string) bool {
	_, executionError := inspector.run(executionContext, directory, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, gitHeadReferenceConstant+gitCommitSuffixConstant)
	return executionError == nil
}

// ChangedFiles lists tracked paths under directory that differ between base
// and the working tree.
func (inspector *RepositoryInspector) ChangedFiles(executionContext context.Context, directory string, base string) ([]FileChange, error) {
	result, executionError := inspector.run(executionContext, directory, gitDiffSubcommandConstant, gitRelativeFlagConstant, gitNameStatusFlagConstant, gitNoRenamesFlagConstant, base)
	if executionError != nil {
		return nil, executionError
	}
	return ParseNameStatus(result.StandardOutput)
}

// LineChanges returns numstat entries between base and the working tree.
func (inspector *RepositoryInspector) LineChanges(executionContext context.Context, directory string, base string) ([]LineChange, error) {
	result, executionError := inspector.run(executionContext, directory, gitDiffSubcommandConstant, gitRelativeFlagConstant, gitNumStatFlagConstant, gitNoRenamesFlagConstant, base)
	if executionError != nil {
		return nil, executionError
	}
	return ParseNumStat(result.StandardOutput)
}

// UntrackedFiles lists files under directory that git does not track and does not ignore.
func (inspector *RepositoryInspector) UntrackedFiles(executionContext context.Context, directory string) ([]string, error) {
	result, executionError := inspector.run(executionContext, directory, gitLsFilesSubcommandConstant, gitOthersFlagConstant, gitExcludeStandardFlagConstant)
	if executionError != nil {
		return nil, executionError
	}
	return splitLines(result.StandardOutput), nil
}

// TrackedFiles lists files under directory known to the index.
func (inspector *RepositoryInspector) TrackedFiles(executionContext context.Context, directory string) ([]string, error) {
	result, executionError := inspector.run(executionContext, directory, gitLsFilesSubcommandConstant)
	if executionError != nil {
		return nil, executionError
	}
	return splitLines(result.StandardOutput), nil
}

// CommitCount counts commits reachable from HEAD and not from base. An
// EmptyTreeHash base counts every commit.
func (inspector *RepositoryInspector) CommitCount(executionContext context.Context, directory string, base string) (int, error) {
	if !inspector.HasCommits(executionContext, directory) {
		return 0, nil
	}
	revisionRange := gitHeadReferenceConstant
	if base != EmptyTreeHash {
		revisionRange = fmt.Sprintf(revisionRangeTemplateConstant, base, gitHeadReferenceConstant)
	}
	result, executionError := inspector.run(executionContext, directory, gitRevListSubcommandConstant, gitCountFlagConstant, revisionRange)
	if executionError != nil {
		return 0, executionError
	}
	trimmedOutput := strings.TrimSpace(result.StandardOutput)
	count, parseError := strconv.Atoi(trimmedOutput)
	if parseError != nil {
		return 0, fmt.Errorf(commitCountParseTemplateConstant, trimmedOutput, parseError)
	}
	return count, nil
}

// ParseNameStatus parses git diff --name-status output.
func ParseNameStatus(output string) ([]FileChange, error) {
	var changes []FileChange
	for _, line := range splitLines(output) {
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 || len(fields[0]) == 0 {
			return nil, fmt.Errorf(malformedNameStatusTemplateConstant, line)
		}
		changes = append(changes, FileChange{Status: ChangeStatus(fields[0][:1]), Path: fields[1]})
	}
	return changes, nil
}

// ParseNumStat parses git diff --numstat output; binary files report "-" counts.
func ParseNumStat(output string) ([]LineChange, error) {
	var changes []LineChange
	for _, line := range splitLines(output) {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf(malformedNumStatTemplateConstant, line)
		}
		if fields[0] == binaryNumStatMarkerConstant && fields[1] == binaryNumStatMarkerConstant {
			changes = append(changes, LineChange{Path: fields[2], Binary: true})
			continue
		}
		added, addedError := strconv.Atoi(fields[0])
		deleted, deletedError := strconv.Atoi(fields[1])
		if addedError != nil || deletedError != nil {
			return nil, fmt.Errorf(malformedNumStatTemplateConstant, line)
		}
		changes = append(changes, LineChange{Path: fields[2], Added: added, Deleted: deleted})
	}
	return changes, nil
}

func (inspector *RepositoryInspector) run(executionContext context.Context, directory string, arguments ...string) (execshell.ExecutionResult, error) {
	return inspector.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        append([]string{gitConfigFlagConstant, gitQuotePathOffConstant}, arguments...),
		WorkingDirectory: directory,
	})
}

func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		trimmedLine := strings.TrimRight(line, "\r")
		if len(strings.TrimSpace(trimmedLine)) == 0 {
			continue
		}
		lines = append(lines, trimmedLine)
	}
	return lines
}
