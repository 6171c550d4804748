package ui

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/execshell"
)

const (
	commandStartedMessageTemplateConstant          = "Running %s"
	commandCompletedMessageTemplateConstant        = "Completed %s"
	commandFailedExitCodeMessageTemplateConstant   = "%s failed with exit code %d"
	commandExecutionFailureMessageTemplateConstant = "%s failed: %s"
	workingDirectorySuffixTemplateConstant         = " (in %s)"
	standardErrorSuffixTemplateConstant            = ": %s"
	unknownFailureMessageConstant                  = "unknown error"
	logFieldCommandConstant                        = "command"
	logFieldWorkingDirectoryConstant               = "working_directory"
	logFieldExitCodeConstant                       = "exit_code"
)

// CommandEventFormatter builds human-readable messages for command lifecycle events.
type CommandEventFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandEventFormatter) BuildStartedMessage(command execshell.ShellCommand) string {
	return fmt.Sprintf(commandStartedMessageTemplateConstant, formatter.formatCommandLabel(command))
}

// BuildSuccessMessage formats the message describing a completed command with a zero exit code.
func (formatter CommandEventFormatter) BuildSuccessMessage(command execshell.ShellCommand) string {
	return fmt.Sprintf(commandCompletedMessageTemplateConstant, formatter.formatCommandLabel(command))
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
// Only the first line of standard error is kept; go test output can be long.
func (formatter CommandEventFormatter) BuildFailureMessage(command execshell.ShellCommand, result execshell.ExecutionResult) string {
	message := fmt.Sprintf(commandFailedExitCodeMessageTemplateConstant, formatter.formatCommandLabel(command), result.ExitCode)
	firstLine, _, _ := strings.Cut(strings.TrimSpace(result.StandardError), "\n")
	if len(firstLine) == 0 {
		return message
	}
	return message + fmt.Sprintf(standardErrorSuffixTemplateConstant, strings.TrimSpace(firstLine))
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandEventFormatter) BuildExecutionFailureMessage(command execshell.ShellCommand, failure error) string {
	failureMessage := unknownFailureMessageConstant
	if failure != nil {
		failureMessage = failure.Error()
	}
	return fmt.Sprintf(commandExecutionFailureMessageTemplateConstant, formatter.formatCommandLabel(command), failureMessage)
}

func (formatter CommandEventFormatter) formatCommandLabel(command execshell.ShellCommand) string {
	workingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(workingDirectory) == 0 {
		return command.String()
	}
	return command.String() + fmt.Sprintf(workingDirectorySuffixTemplateConstant, workingDirectory)
}

// LoggingCommandObserver reports the git and go invocations made by collectors through zap.
// Successful commands log at debug so a default info run stays quiet.
type LoggingCommandObserver struct {
	logger    *zap.Logger
	formatter CommandEventFormatter
}

var _ execshell.CommandEventObserver = (*LoggingCommandObserver)(nil)

// NewLoggingCommandObserver constructs an observer backed by the provided zap logger.
func NewLoggingCommandObserver(logger *zap.Logger) *LoggingCommandObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingCommandObserver{logger: logger, formatter: CommandEventFormatter{}}
}

// CommandStarted implements execshell.CommandEventObserver.
func (observer *LoggingCommandObserver) CommandStarted(command execshell.ShellCommand) {
	if observer == nil {
		return
	}
	observer.logger.Debug(observer.formatter.BuildStartedMessage(command), observer.commandFields(command)...)
}

// CommandCompleted implements execshell.CommandEventObserver.
func (observer *LoggingCommandObserver) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if observer == nil {
		return
	}
	fields := append(observer.commandFields(command), zap.Int(logFieldExitCodeConstant, result.ExitCode))
	if result.ExitCode == 0 {
		observer.logger.Debug(observer.formatter.BuildSuccessMessage(command), fields...)
		return
	}
	observer.logger.Warn(observer.formatter.BuildFailureMessage(command, result), fields...)
}

// CommandExecutionFailed implements execshell.CommandEventObserver.
func (observer *LoggingCommandObserver) CommandExecutionFailed(command execshell.ShellCommand, failure error) {
	if observer == nil {
		return
	}
	observer.logger.Error(observer.formatter.BuildExecutionFailureMessage(command, failure), append(observer.commandFields(command), zap.Error(failure))...)
}

func (observer *LoggingCommandObserver) commandFields(command execshell.ShellCommand) []zap.Field {
	return []zap.Field{
		zap.String(logFieldCommandConstant, command.String()),
		zap.String(logFieldWorkingDirectoryConstant, command.Details.WorkingDirectory),
	}
}
