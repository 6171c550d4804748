package mcpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/audit"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/mcpserver"
	"github.com/temirov/auditgate/internal/orchestrator"
	"github.com/temirov/auditgate/internal/verdict"
)

const toolSubtestTemplateConstant = "%d_%s"

type fakeBackend struct {
	runResult   evidence.AuditResult
	runError    error
	stored      []verdict.StoredResult
	verifyRange [2]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		runResult: evidence.AuditResult{AuditID: "audit-9", TaskID: "task-1", Status: evidence.AuditStatusCritical, ConfidenceScore: 0.4},
		stored: []verdict.StoredResult{
			{Sequence: 2, Result: evidence.AuditResult{AuditID: "audit-2", TaskID: "task-1", Status: evidence.AuditStatusPassed, Timestamp: time.Date(2026, time.May, 2, 0, 0, 0, 0, time.UTC)}},
			{Sequence: 1, Result: evidence.AuditResult{AuditID: "audit-1", TaskID: "task-1", Status: evidence.AuditStatusFailed, Timestamp: time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)}},
		},
	}
}

func (backend *fakeBackend) RunAudit(executionContext context.Context, request audit.RunRequest) (evidence.AuditResult, error) {
	return backend.runResult, backend.runError
}

func (backend *fakeBackend) Result(executionContext context.Context, taskID string) (verdict.StoredResult, error) {
	history, _ := backend.History(executionContext, taskID)
	if len(history) == 0 {
		return verdict.StoredResult{}, verdict.ErrResultNotFound
	}
	return history[0], nil
}

func (backend *fakeBackend) History(executionContext context.Context, taskID string) ([]verdict.StoredResult, error) {
	var history []verdict.StoredResult
	for _, stored := range backend.stored {
		if stored.Result.TaskID == taskID {
			history = append(history, stored)
		}
	}
	return history, nil
}

func (backend *fakeBackend) List(executionContext context.Context, filter verdict.Filter, page verdict.Page) (verdict.Listing, error) {
	listing := verdict.Listing{Page: page.Normalize()}
	for _, stored := range backend.stored {
		if filter.Matches(stored) {
			listing.Results = append(listing.Results, stored)
		}
	}
	listing.Total = len(listing.Results)
	return listing, nil
}

func (backend *fakeBackend) VerifyLedger(fromIndex int, toIndex int) (audit.LedgerReport, error) {
	backend.verifyRange = [2]int{fromIndex, toIndex}
	return audit.LedgerReport{Items: 6, From: 0, To: 5, Head: "feed", Valid: true}, nil
}

func TestRunAuditTool(testInstance *testing.T) {
	testCases := []struct {
		name           string
		runResult      evidence.AuditResult
		runError       error
		expectError    bool
		expectedStatus evidence.AuditStatus
	}{
		{
			name:           "blocking_verdict_is_output",
			runResult:      evidence.AuditResult{AuditID: "audit-9", Status: evidence.AuditStatusCritical},
			expectedStatus: evidence.AuditStatusCritical,
		},
		{
			name:           "aborted_audit_returns_error_verdict",
			runResult:      evidence.AuditResult{AuditID: "audit-10", Status: evidence.AuditStatusError, ErrorKind: evidence.ErrorKindAuditDeadlineExceeded},
			runError:       evidence.ErrAuditDeadlineExceeded,
			expectedStatus: evidence.AuditStatusError,
		},
		{
			name:        "invalid_request_fails_call",
			runResult:   evidence.AuditResult{AuditID: "audit-11", Status: evidence.AuditStatusError},
			runError:    fmt.Errorf("%w: target is required", orchestrator.ErrInvalidRequest),
			expectError: true,
		},
		{
			name:        "failure_without_verdict",
			runError:    fmt.Errorf("target does not exist"),
			expectError: true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(toolSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			backend := newFakeBackend()
			backend.runResult = testCase.runResult
			backend.runError = testCase.runError
			tools := mcpserver.NewTools(backend)

			_, output, toolError := tools.RunAudit(context.Background(), &mcp.CallToolRequest{}, mcpserver.InputRunAudit{TaskID: "task-1", Target: "/work", Claim: map[string]any{"tests_passed": true}})
			if testCase.expectError {
				require.Error(subTest, toolError)
				return
			}
			require.NoError(subTest, toolError)
			result, isResult := output.(evidence.AuditResult)
			require.True(subTest, isResult)
			require.Equal(subTest, testCase.expectedStatus, result.Status)
		})
	}
}

func TestReadTools(testInstance *testing.T) {
	backend := newFakeBackend()
	tools := mcpserver.NewTools(backend)
	executionContext := context.Background()
	request := &mcp.CallToolRequest{}

	_, latest, latestError := tools.GetAuditResult(executionContext, request, mcpserver.InputGetAuditResult{TaskID: "task-1"})
	require.NoError(testInstance, latestError)
	require.Equal(testInstance, "audit-2", latest.(verdict.StoredResult).Result.AuditID)

	_, history, historyError := tools.GetAuditResult(executionContext, request, mcpserver.InputGetAuditResult{TaskID: "task-1", History: true})
	require.NoError(testInstance, historyError)
	require.Len(testInstance, history.([]verdict.StoredResult), 2)

	_, _, missingError := tools.GetAuditResult(executionContext, request, mcpserver.InputGetAuditResult{TaskID: "task-7", History: true})
	require.ErrorIs(testInstance, missingError, verdict.ErrResultNotFound)

	_, _, blankError := tools.GetAuditResult(executionContext, request, mcpserver.InputGetAuditResult{TaskID: "  "})
	require.Error(testInstance, blankError)

	_, listing, listError := tools.ListAuditResults(executionContext, request, mcpserver.InputListAuditResults{Status: "failed"})
	require.NoError(testInstance, listError)
	require.Equal(testInstance, 1, listing.(verdict.Listing).Total)

	_, _, statusError := tools.ListAuditResults(executionContext, request, mcpserver.InputListAuditResults{Status: "unknown"})
	require.Error(testInstance, statusError)

	_, report, verifyError := tools.VerifyLedger(executionContext, request, mcpserver.InputVerifyLedger{})
	require.NoError(testInstance, verifyError)
	require.True(testInstance, report.(audit.LedgerReport).Valid)
	require.Equal(testInstance, [2]int{-1, -1}, backend.verifyRange)

	fromIndex, toIndex := 1, 3
	_, _, rangeError := tools.VerifyLedger(executionContext, request, mcpserver.InputVerifyLedger{From: &fromIndex, To: &toIndex})
	require.NoError(testInstance, rangeError)
	require.Equal(testInstance, [2]int{1, 3}, backend.verifyRange)
}

func TestServerRoundTrip(testInstance *testing.T) {
	executionContext, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := mcpserver.NewServer(newFakeBackend(), "test")
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, serverError := server.Connect(executionContext, serverTransport, nil)
	require.NoError(testInstance, serverError)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "auditgate-test", Version: "test"}, nil)
	clientSession, clientError := client.Connect(executionContext, clientTransport, nil)
	require.NoError(testInstance, clientError)
	defer clientSession.Close()

	listed, listError := clientSession.ListTools(executionContext, nil)
	require.NoError(testInstance, listError)
	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(testInstance, mcpserver.ToolNames(), names)

	called, callError := clientSession.CallTool(executionContext, &mcp.CallToolParams{Name: "verify_ledger", Arguments: map[string]any{}})
	require.NoError(testInstance, callError)
	require.False(testInstance, called.IsError)
	require.NotEmpty(testInstance, called.Content)
	textContent, isText := called.Content[0].(*mcp.TextContent)
	require.True(testInstance, isText)

	var report audit.LedgerReport
	require.NoError(testInstance, json.Unmarshal([]byte(textContent.Text), &report))
	require.Equal(testInstance, 6, report.Items)
	require.True(testInstance, report.Valid)
}
