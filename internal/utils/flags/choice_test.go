package flags_test

import (
	"fmt"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/utils/flags"
)

const choiceSubtestTemplateConstant = "%d_%s"

func TestFormatChoiceUsage(testInstance *testing.T) {
	testCases := []struct {
		name           string
		defaultChoice  string
		choices        []string
		description    string
		expectedOutput string
	}{
		{name: "default_first", defaultChoice: "text", choices: []string{"text", "json"}, description: "Verdict output format.", expectedOutput: "`<TEXT|json>` Verdict output format."},
		{name: "default_second", defaultChoice: "console", choices: []string{"structured", "console"}, description: "Log format.", expectedOutput: "`<structured|CONSOLE>` Log format."},
		{name: "empty_description", defaultChoice: "file", choices: []string{"file", "postgres"}, expectedOutput: "`<FILE|postgres>`"},
		{name: "duplicates_ignored", defaultChoice: "json", choices: []string{"json", "JSON", "text"}, description: "Format.", expectedOutput: "`<JSON|text>` Format."},
		{name: "whitespace_trimmed", defaultChoice: "text", choices: []string{" text ", " json "}, description: "Format.", expectedOutput: "`<TEXT|json>` Format."},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(choiceSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			require.Equal(subTest, testCase.expectedOutput, flags.FormatChoiceUsage(testCase.defaultChoice, testCase.choices, testCase.description))
		})
	}
}

func TestChoiceValueValidatesInput(testInstance *testing.T) {
	flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	output := flags.BindChoiceFlag(flagSet, "output", "text", []string{"text", "json"}, "Verdict output format.")
	require.Equal(testInstance, "text", output.String())

	require.NoError(testInstance, flagSet.Parse([]string{"--output", "JSON"}))
	require.Equal(testInstance, "json", output.String())
	require.Equal(testInstance, "choice", output.Type())

	require.Error(testInstance, output.Set("yaml"))
	require.Equal(testInstance, "json", output.String())
}
