package audit

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/auditgate/internal/utils/flags"
)

const (
	ledgerCommandUseConstant              = "ledger"
	ledgerCommandShortDescriptionConstant = "Inspect the hash-chained evidence ledger"
	verifyCommandUseConstant              = "verify"
	verifyCommandShortDescriptionConstant = "Recompute the chain and report the first broken item"
	ledgerHistoryCommandUseConstant       = "history"
	ledgerHistoryShortDescriptionConstant = "Show the most recent ledger items, newest first"
	fromFlagNameConstant                  = "from"
	fromFlagDescriptionConstant           = "First item index to verify (default: start of chain)."
	toFlagNameConstant                    = "to"
	toFlagDescriptionConstant             = "Last item index to verify (default: end of chain)."
	limitFlagNameConstant                 = "limit"
	limitFlagDescriptionConstant          = "Maximum number of items to show."
	ledgerValidTemplateConstant           = "ledger valid: %d items, head %s\n"
	ledgerEmptyMessageConstant            = "ledger empty\n"
	ledgerBrokenTemplateConstant          = "ledger broken: %s\n"
)

// LedgerCommandBuilder assembles the `ledger` command tree.
type LedgerCommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	ColorProvider         ColorProvider
	ServiceOptions        ServiceOptions
}

// Build constructs the `ledger` command with verify and history subcommands.
func (builder *LedgerCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   ledgerCommandUseConstant,
		Short: ledgerCommandShortDescriptionConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	verifyCommand := &cobra.Command{
		Use:   verifyCommandUseConstant,
		Short: verifyCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.verify,
	}
	verifyCommand.Flags().Int(fromFlagNameConstant, -1, fromFlagDescriptionConstant)
	verifyCommand.Flags().Int(toFlagNameConstant, -1, toFlagDescriptionConstant)
	flags.BindChoiceFlag(verifyCommand.Flags(), outputFlagNameConstant, outputFormatTextConstant, outputChoices(), outputFlagDescriptionConstant)

	historyCommand := &cobra.Command{
		Use:   ledgerHistoryCommandUseConstant,
		Short: ledgerHistoryShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.history,
	}
	historyCommand.Flags().Int(limitFlagNameConstant, defaultLedgerHistoryLimitConstant, limitFlagDescriptionConstant)
	flags.BindChoiceFlag(historyCommand.Flags(), outputFlagNameConstant, outputFormatTextConstant, outputChoices(), outputFlagDescriptionConstant)

	command.AddCommand(verifyCommand, historyCommand)
	return command, nil
}

func (builder *LedgerCommandBuilder) verify(command *cobra.Command, arguments []string) error {
	fromIndex, _ := command.Flags().GetInt(fromFlagNameConstant)
	toIndex, _ := command.Flags().GetInt(toFlagNameConstant)
	outputFormat := command.Flags().Lookup(outputFlagNameConstant).Value.String()

	service, openError := builder.openService(command)
	if openError != nil {
		return openError
	}
	defer service.Close()

	report, verifyError := service.VerifyLedger(fromIndex, toIndex)
	if verifyError != nil {
		return verifyError
	}

	var writeError error
	switch {
	case outputFormat == outputFormatJSONConstant:
		writeError = writeJSON(command.OutOrStdout(), report)
	case report.Items == 0:
		_, writeError = fmt.Fprint(command.OutOrStdout(), ledgerEmptyMessageConstant)
	case report.Valid:
		_, writeError = fmt.Fprintf(command.OutOrStdout(), ledgerValidTemplateConstant, report.Items, report.Head)
	default:
		_, writeError = fmt.Fprintf(command.OutOrStdout(), ledgerBrokenTemplateConstant, report.Error)
	}
	if writeError != nil {
		return writeError
	}
	if !report.Valid {
		return ErrLedgerIntegrity
	}
	return nil
}

func (builder *LedgerCommandBuilder) history(command *cobra.Command, arguments []string) error {
	limit, _ := command.Flags().GetInt(limitFlagNameConstant)
	outputFormat := command.Flags().Lookup(outputFlagNameConstant).Value.String()

	service, openError := builder.openService(command)
	if openError != nil {
		return openError
	}
	defer service.Close()

	items := service.LedgerHistory(limit)
	if outputFormat == outputFormatJSONConstant {
		return writeJSON(command.OutOrStdout(), items)
	}
	return newPrinter(command.OutOrStdout(), builder.ColorProvider).PrintLedgerItems(items)
}

func (builder *LedgerCommandBuilder) openService(command *cobra.Command) (*Service, error) {
	options := builder.ServiceOptions
	options.Logger = resolveLogger(builder.LoggerProvider)
	return OpenService(command.Context(), resolveConfiguration(builder.ConfigurationProvider), options)
}
