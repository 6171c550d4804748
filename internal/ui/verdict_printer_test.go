package ui_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/ui"
	"github.com/temirov/auditgate/internal/verdict"
)

func criticalResult() evidence.AuditResult {
	return evidence.AuditResult{
		AuditID:         "audit-7",
		TaskID:          "task-7",
		Status:          evidence.AuditStatusCritical,
		ConfidenceScore: 0,
		DurationMs:      42,
		EvidenceItemIDs: []string{"item-1", "item-2"},
		Passes: []evidence.VerificationPass{
			{Label: evidence.PassA, Status: evidence.PassStatusComplete},
		},
		Discrepancies: []evidence.Discrepancy{
			{ClaimField: "testsPassed", Severity: evidence.SeverityCritical, Pass: evidence.PassA, Description: "TestResults disagrees with the claim: claimed true, observed false"},
		},
		Timestamp: time.Date(2026, time.June, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestVerdictPrinterPlainOutput(testInstance *testing.T) {
	outputBuffer := &bytes.Buffer{}
	printer := ui.NewVerdictPrinter(outputBuffer, false)

	require.NoError(testInstance, printer.PrintResult(criticalResult()))
	output := outputBuffer.String()
	require.Contains(testInstance, output, "Critical  task task-7  audit audit-7")
	require.Contains(testInstance, output, "confidence 0.000  duration 42ms  evidence 2 items")
	require.Contains(testInstance, output, "[Critical] testsPassed (pass A)")
	require.NotContains(testInstance, output, "\x1b[")
}

func TestVerdictPrinterColoredOutput(testInstance *testing.T) {
	outputBuffer := &bytes.Buffer{}
	printer := ui.NewVerdictPrinter(outputBuffer, true)

	require.NoError(testInstance, printer.PrintResult(criticalResult()))
	require.Contains(testInstance, outputBuffer.String(), "\x1b[")
}

func TestVerdictPrinterListingAndLedger(testInstance *testing.T) {
	outputBuffer := &bytes.Buffer{}
	printer := ui.NewVerdictPrinter(outputBuffer, false)

	listing := verdict.Listing{
		Results: []verdict.StoredResult{{Sequence: 1, Result: criticalResult()}},
		Total:   1,
		Page:    verdict.Page{Number: 1, Size: 20},
	}
	require.NoError(testInstance, printer.PrintListing(listing))
	require.Contains(testInstance, outputBuffer.String(), "task-7")
	require.Contains(testInstance, outputBuffer.String(), "page 1 of 1 results (page size 20)")

	outputBuffer.Reset()
	items := []evidence.Item{{ID: "item-1", Source: evidence.SourceFileSystem, Pass: evidence.PassA, Hash: "abcdef0123456789abcdef", CollectedAt: time.Date(2026, time.June, 10, 8, 0, 0, 0, time.UTC)}}
	require.NoError(testInstance, printer.PrintLedgerItems(items))
	require.Contains(testInstance, outputBuffer.String(), "abcdef012345  item-1")
	require.NotContains(testInstance, outputBuffer.String(), "abcdef0123456789")
}
