package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/verdict"
)

const (
	verdictHeaderTemplateConstant     = "%s  task %s  audit %s\n"
	verdictConfidenceTemplateConstant = "confidence %.3f  duration %dms  evidence %d items\n"
	verdictErrorTemplateConstant      = "error %s: %s\n"
	passLineTemplateConstant          = "  pass %s  %s  %d discrepancies\n"
	discrepancyLineTemplateConstant   = "  [%s] %s (pass %s): %s\n"
	listingLineTemplateConstant       = "%-8s  %-24s  %.3f  %s  %s\n"
	listingFooterTemplateConstant     = "page %d of %d results (page size %d)\n"
	ledgerItemLineTemplateConstant    = "%s  %-15s  %-8s  %s  %s\n"
	timestampLayoutConstant           = "2006-01-02T15:04:05Z07:00"
	hashPreviewLengthConstant         = 12
)

// VerdictPrinter writes audit verdicts for a terminal, coloring the status
// and discrepancy severities.
type VerdictPrinter struct {
	writer       io.Writer
	statusColors map[evidence.AuditStatus]*color.Color
	severities   map[evidence.Severity]*color.Color
	emphasis     *color.Color
}

// NewVerdictPrinter constructs a printer. colorEnabled=false emits plain text.
func NewVerdictPrinter(writer io.Writer, colorEnabled bool) *VerdictPrinter {
	palette := func(attributes ...color.Attribute) *color.Color {
		painter := color.New(attributes...)
		if colorEnabled {
			painter.EnableColor()
		} else {
			painter.DisableColor()
		}
		return painter
	}
	return &VerdictPrinter{
		writer: writer,
		statusColors: map[evidence.AuditStatus]*color.Color{
			evidence.AuditStatusPassed:   palette(color.FgGreen, color.Bold),
			evidence.AuditStatusFailed:   palette(color.FgYellow, color.Bold),
			evidence.AuditStatusCritical: palette(color.FgRed, color.Bold),
			evidence.AuditStatusError:    palette(color.FgMagenta, color.Bold),
		},
		severities: map[evidence.Severity]*color.Color{
			evidence.SeverityCritical: palette(color.FgRed),
			evidence.SeverityHigh:     palette(color.FgHiRed),
			evidence.SeverityMedium:   palette(color.FgYellow),
			evidence.SeverityLow:      palette(color.FgCyan),
		},
		emphasis: palette(color.Bold),
	}
}

// PrintResult renders one audit result with its passes and discrepancies.
func (printer *VerdictPrinter) PrintResult(result evidence.AuditResult) error {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf(verdictHeaderTemplateConstant, printer.status(result.Status), result.TaskID, result.AuditID))
	builder.WriteString(fmt.Sprintf(verdictConfidenceTemplateConstant, result.ConfidenceScore, result.DurationMs, len(result.EvidenceItemIDs)))
	if len(result.ErrorKind) > 0 {
		builder.WriteString(fmt.Sprintf(verdictErrorTemplateConstant, printer.emphasis.Sprint(result.ErrorKind), result.ErrorMessage))
	}
	for _, pass := range result.Passes {
		builder.WriteString(fmt.Sprintf(passLineTemplateConstant, pass.Label, pass.Status, len(pass.Discrepancies)))
	}
	for _, discrepancy := range result.Discrepancies {
		builder.WriteString(fmt.Sprintf(discrepancyLineTemplateConstant, printer.severity(discrepancy.Severity), discrepancy.ClaimField, discrepancy.Pass, discrepancy.Description))
	}
	_, writeError := io.WriteString(printer.writer, builder.String())
	return writeError
}

// PrintListing renders one row per stored result followed by a page footer.
func (printer *VerdictPrinter) PrintListing(listing verdict.Listing) error {
	var builder strings.Builder
	for _, stored := range listing.Results {
		builder.WriteString(fmt.Sprintf(listingLineTemplateConstant,
			printer.status(stored.Result.Status),
			stored.Result.TaskID,
			stored.Result.ConfidenceScore,
			stored.Result.Timestamp.Format(timestampLayoutConstant),
			stored.Result.AuditID,
		))
	}
	builder.WriteString(fmt.Sprintf(listingFooterTemplateConstant, listing.Page.Number, listing.Total, listing.Page.Size))
	_, writeError := io.WriteString(printer.writer, builder.String())
	return writeError
}

// PrintLedgerItems renders ledger items one per line with shortened hashes.
func (printer *VerdictPrinter) PrintLedgerItems(items []evidence.Item) error {
	var builder strings.Builder
	for _, item := range items {
		builder.WriteString(fmt.Sprintf(ledgerItemLineTemplateConstant,
			item.CollectedAt.Format(timestampLayoutConstant),
			item.Source,
			item.Pass,
			printer.emphasis.Sprint(shortHash(item.Hash)),
			item.ID,
		))
	}
	_, writeError := io.WriteString(printer.writer, builder.String())
	return writeError
}

func (printer *VerdictPrinter) status(status evidence.AuditStatus) string {
	if painter, known := printer.statusColors[status]; known {
		return painter.Sprint(status)
	}
	return string(status)
}

func (printer *VerdictPrinter) severity(severity evidence.Severity) string {
	if painter, known := printer.severities[severity]; known {
		return painter.Sprint(severity)
	}
	return string(severity)
}

func shortHash(hash string) string {
	if len(hash) <= hashPreviewLengthConstant {
		return hash
	}
	return hash[:hashPreviewLengthConstant]
}
