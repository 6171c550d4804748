package audit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/temirov/auditgate/internal/claim"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/execshell"
	"github.com/temirov/auditgate/internal/ui"
	"github.com/temirov/auditgate/internal/utils/flags"
	"github.com/temirov/auditgate/internal/verdict"
)

const (
	auditCommandUseConstant               = "audit"
	auditCommandShortDescriptionConstant  = "Verify agent claims against independently collected evidence"
	auditCommandLongDescriptionConstant   = "audit runs the three-pass verification of a claim and reads the stored verdicts."
	runCommandUseConstant                 = "run"
	runCommandShortDescriptionConstant    = "Audit a claim about a target directory"
	showCommandUseConstant                = "show TASK_ID"
	showCommandShortDescriptionConstant   = "Show the latest verdict for a task"
	listCommandUseConstant                = "list"
	listCommandShortDescriptionConstant   = "List stored verdicts, newest first"
	taskIDFlagNameConstant                = "task-id"
	taskIDFlagDescriptionConstant         = "Identifier of the audited task."
	targetFlagNameConstant                = "target"
	targetFlagDescriptionConstant         = "Directory holding the produced work."
	claimFlagNameConstant                 = "claim"
	claimFlagDescriptionConstant          = "Claim file (JSON or YAML mapping)."
	workingStateFlagNameConstant          = "working-state"
	workingStateFlagDescriptionConstant   = "Optional YAML or JSON file with the executor's working state."
	historyFlagNameConstant               = "history"
	historyFlagDescriptionConstant        = "Show every verdict for the task, newest first."
	statusFlagNameConstant                = "status"
	statusFlagDescriptionConstant         = "Only list verdicts with this status (Passed, Failed, Critical, Error)."
	pageFlagNameConstant                  = "page"
	pageFlagDescriptionConstant           = "Page number, starting at 1."
	pageSizeFlagNameConstant              = "page-size"
	pageSizeFlagDescriptionConstant       = "Results per page."
	missingClaimFileMessageConstant       = "--claim is required"
	workingStateReadErrorTemplateConstant = "unable to read working state %s: %w"
	unknownStatusErrorTemplateConstant    = "unknown status %q"
	defaultPageSizeConstant               = 20
)

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the audit configuration resolved by the root command.
type ConfigurationProvider func() config.AuditConfig

// CommandBuilder assembles the audit cobra command tree.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	ColorProvider         ColorProvider
	ServiceOptions        ServiceOptions
}

// Build constructs the `audit` command with its run, show and list subcommands.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   auditCommandUseConstant,
		Short: auditCommandShortDescriptionConstant,
		Long:  auditCommandLongDescriptionConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	runCommand := &cobra.Command{
		Use:   runCommandUseConstant,
		Short: runCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.runAudit,
	}
	runCommand.Flags().String(taskIDFlagNameConstant, "", taskIDFlagDescriptionConstant)
	runCommand.Flags().String(targetFlagNameConstant, ".", targetFlagDescriptionConstant)
	runCommand.Flags().String(claimFlagNameConstant, "", claimFlagDescriptionConstant)
	runCommand.Flags().String(workingStateFlagNameConstant, "", workingStateFlagDescriptionConstant)
	flags.BindChoiceFlag(runCommand.Flags(), outputFlagNameConstant, outputFormatTextConstant, outputChoices(), outputFlagDescriptionConstant)

	showCommand := &cobra.Command{
		Use:   showCommandUseConstant,
		Short: showCommandShortDescriptionConstant,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.showAudit,
	}
	showCommand.Flags().Bool(historyFlagNameConstant, false, historyFlagDescriptionConstant)
	flags.BindChoiceFlag(showCommand.Flags(), outputFlagNameConstant, outputFormatTextConstant, outputChoices(), outputFlagDescriptionConstant)

	listCommand := &cobra.Command{
		Use:   listCommandUseConstant,
		Short: listCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.listAudits,
	}
	listCommand.Flags().String(statusFlagNameConstant, "", statusFlagDescriptionConstant)
	listCommand.Flags().String(taskIDFlagNameConstant, "", taskIDFlagDescriptionConstant)
	listCommand.Flags().Int(pageFlagNameConstant, 1, pageFlagDescriptionConstant)
	listCommand.Flags().Int(pageSizeFlagNameConstant, defaultPageSizeConstant, pageSizeFlagDescriptionConstant)
	flags.BindChoiceFlag(listCommand.Flags(), outputFlagNameConstant, outputFormatTextConstant, outputChoices(), outputFlagDescriptionConstant)

	command.AddCommand(runCommand, showCommand, listCommand)
	return command, nil
}

func (builder *CommandBuilder) runAudit(command *cobra.Command, arguments []string) error {
	taskID, _ := command.Flags().GetString(taskIDFlagNameConstant)
	target, _ := command.Flags().GetString(targetFlagNameConstant)
	claimPath, _ := command.Flags().GetString(claimFlagNameConstant)
	workingStatePath, _ := command.Flags().GetString(workingStateFlagNameConstant)
	outputFormat := command.Flags().Lookup(outputFlagNameConstant).Value.String()

	if len(claimPath) == 0 {
		return errors.New(missingClaimFileMessageConstant)
	}
	parsedClaim, claimError := claim.ParseFile(claimPath)
	if claimError != nil {
		return claimError
	}
	workingState, workingStateError := readWorkingState(workingStatePath)
	if workingStateError != nil {
		return workingStateError
	}

	service, openError := builder.openService(command.Context())
	if openError != nil {
		return openError
	}
	defer service.Close()

	result, runError := service.RunAudit(command.Context(), RunRequest{
		TaskID:       taskID,
		Target:       target,
		Claim:        parsedClaim,
		WorkingState: workingState,
	})
	if len(result.AuditID) > 0 {
		if outputError := builder.writeResult(command, outputFormat, result); outputError != nil {
			return outputError
		}
	}
	if runError != nil {
		return runError
	}
	if result.Status.BlocksDownstream() {
		return &BlockingVerdictError{TaskID: result.TaskID, Status: result.Status}
	}
	return nil
}

func (builder *CommandBuilder) showAudit(command *cobra.Command, arguments []string) error {
	showHistory, _ := command.Flags().GetBool(historyFlagNameConstant)
	outputFormat := command.Flags().Lookup(outputFlagNameConstant).Value.String()

	service, openError := builder.openService(command.Context())
	if openError != nil {
		return openError
	}
	defer service.Close()

	if !showHistory {
		stored, getError := service.Result(command.Context(), arguments[0])
		if getError != nil {
			return getError
		}
		return builder.writeResult(command, outputFormat, stored.Result)
	}

	history, historyError := service.History(command.Context(), arguments[0])
	if historyError != nil {
		return historyError
	}
	if len(history) == 0 {
		return verdict.ErrResultNotFound
	}
	if outputFormat == outputFormatJSONConstant {
		return writeJSON(command.OutOrStdout(), history)
	}
	printer := newPrinter(command.OutOrStdout(), builder.ColorProvider)
	for _, stored := range history {
		if printError := printer.PrintResult(stored.Result); printError != nil {
			return printError
		}
	}
	return nil
}

func (builder *CommandBuilder) listAudits(command *cobra.Command, arguments []string) error {
	statusValue, _ := command.Flags().GetString(statusFlagNameConstant)
	taskID, _ := command.Flags().GetString(taskIDFlagNameConstant)
	pageNumber, _ := command.Flags().GetInt(pageFlagNameConstant)
	pageSize, _ := command.Flags().GetInt(pageSizeFlagNameConstant)
	outputFormat := command.Flags().Lookup(outputFlagNameConstant).Value.String()

	filter := verdict.Filter{TaskID: taskID}
	if len(statusValue) > 0 {
		status, known := evidence.ParseAuditStatus(statusValue)
		if !known {
			return fmt.Errorf(unknownStatusErrorTemplateConstant, statusValue)
		}
		filter.Status = status
	}

	service, openError := builder.openService(command.Context())
	if openError != nil {
		return openError
	}
	defer service.Close()

	listing, listError := service.List(command.Context(), filter, verdict.Page{Number: pageNumber, Size: pageSize})
	if listError != nil {
		return listError
	}
	if outputFormat == outputFormatJSONConstant {
		return writeJSON(command.OutOrStdout(), listing)
	}
	return newPrinter(command.OutOrStdout(), builder.ColorProvider).PrintListing(listing)
}

func (builder *CommandBuilder) writeResult(command *cobra.Command, outputFormat string, result evidence.AuditResult) error {
	if outputFormat == outputFormatJSONConstant {
		return writeJSON(command.OutOrStdout(), result)
	}
	return newPrinter(command.OutOrStdout(), builder.ColorProvider).PrintResult(result)
}

func (builder *CommandBuilder) openService(executionContext context.Context) (*Service, error) {
	logger := resolveLogger(builder.LoggerProvider)
	options := builder.ServiceOptions
	options.Logger = logger
	options.CommandObservers = append([]execshell.CommandEventObserver{ui.NewLoggingCommandObserver(logger)}, options.CommandObservers...)
	return OpenService(executionContext, resolveConfiguration(builder.ConfigurationProvider), options)
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	if logger := provider(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

func resolveConfiguration(provider ConfigurationProvider) config.AuditConfig {
	if provider == nil {
		return config.DefaultAuditConfig()
	}
	return provider()
}

func readWorkingState(path string) (map[string]any, error) {
	if len(path) == 0 {
		return nil, nil
	}
	content, readError := os.ReadFile(path)
	if readError != nil {
		return nil, fmt.Errorf(workingStateReadErrorTemplateConstant, path, readError)
	}
	workingState := map[string]any{}
	if decodeError := yaml.Unmarshal(content, &workingState); decodeError != nil {
		return nil, fmt.Errorf(workingStateReadErrorTemplateConstant, path, decodeError)
	}
	return workingState, nil
}
