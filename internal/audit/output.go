package audit

import (
	"encoding/json"
	"io"

	"github.com/fatih/color"

	"github.com/temirov/auditgate/internal/ui"
)

const (
	outputFlagNameConstant        = "output"
	outputFlagDescriptionConstant = "Output format."
	outputFormatTextConstant      = "text"
	outputFormatJSONConstant      = "json"
	jsonIndentConstant            = "  "
)

func outputChoices() []string {
	return []string{outputFormatTextConstant, outputFormatJSONConstant}
}

// ColorProvider reports whether terminal output should be colored.
type ColorProvider func() bool

func resolveColor(provider ColorProvider) bool {
	if provider == nil {
		return !color.NoColor
	}
	return provider()
}

func writeJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", jsonIndentConstant)
	return encoder.Encode(value)
}

func newPrinter(writer io.Writer, provider ColorProvider) *ui.VerdictPrinter {
	return ui.NewVerdictPrinter(writer, resolveColor(provider))
}
