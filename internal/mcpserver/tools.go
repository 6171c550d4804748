package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/temirov/auditgate/internal/audit"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/verdict"
)

const (
	runAuditToolNameConstant           = "run_audit"
	getAuditResultToolNameConstant     = "get_audit_result"
	listAuditResultsToolNameConstant   = "list_audit_results"
	verifyLedgerToolNameConstant       = "verify_ledger"
	taskIDRequiredMessageConstant      = "task_id is required"
	unknownStatusErrorTemplateConstant = "unknown status %q"
	auditFailedErrorTemplateConstant   = "audit %s ended with %s: %w"
)

// MetadataRunAudit describes the run_audit tool.
var MetadataRunAudit = &mcp.Tool{
	Name: runAuditToolNameConstant,
	Description: "Audit an agent's completion claim against independently collected evidence. " +
		"The audit runs a primary, a delayed and an adversarial verification pass over the target " +
		"workspace and returns a verdict: Passed, Failed, Critical or Error. " +
		"Critical and Error verdicts must block merges, deploys and releases.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"task_id", "target", "claim"},
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Identifier of the task whose completion is being claimed",
			},
			"target": map[string]any{
				"type":        "string",
				"description": "Workspace directory the claim refers to",
			},
			"claim": map[string]any{
				"type":        "object",
				"description": "Flat map of claimed facts, for example tests_passed, files_modified or build_status",
			},
			"working_state": map[string]any{
				"type":        "object",
				"description": "Optional self-reported working state of the agent, recorded as the least trusted source",
			},
		},
	},
}

// MetadataGetAuditResult describes the get_audit_result tool.
var MetadataGetAuditResult = &mcp.Tool{
	Name:        getAuditResultToolNameConstant,
	Description: "Return the latest stored verdict for a task, or every verdict newest first when history is true.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"task_id"},
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Task identifier",
			},
			"history": map[string]any{
				"type":        "boolean",
				"description": "Return all verdicts for the task instead of the latest one",
			},
		},
	},
}

// MetadataListAuditResults describes the list_audit_results tool.
var MetadataListAuditResults = &mcp.Tool{
	Name:        listAuditResultsToolNameConstant,
	Description: "List stored verdicts newest first, optionally filtered by status or task, one page at a time.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "Only verdicts with this status",
				"enum":        []string{"Passed", "Failed", "Critical", "Error"},
			},
			"task_id": map[string]any{
				"type":        "string",
				"description": "Only verdicts for this task",
			},
			"page": map[string]any{
				"type":        "integer",
				"description": "1-based page number",
			},
			"page_size": map[string]any{
				"type":        "integer",
				"description": "Results per page",
			},
		},
	},
}

// MetadataVerifyLedger describes the verify_ledger tool.
var MetadataVerifyLedger = &mcp.Tool{
	Name:        verifyLedgerToolNameConstant,
	Description: "Recompute the evidence ledger hash chain and report whether it is intact. Omit both bounds to verify the whole chain.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from": map[string]any{
				"type":        "integer",
				"description": "First index to verify",
			},
			"to": map[string]any{
				"type":        "integer",
				"description": "Last index to verify, inclusive",
			},
		},
	},
}

// AuditBackend is the slice of audit.Service the tools need.
type AuditBackend interface {
	RunAudit(executionContext context.Context, request audit.RunRequest) (evidence.AuditResult, error)
	Result(executionContext context.Context, taskID string) (verdict.StoredResult, error)
	History(executionContext context.Context, taskID string) ([]verdict.StoredResult, error)
	List(executionContext context.Context, filter verdict.Filter, page verdict.Page) (verdict.Listing, error)
	VerifyLedger(fromIndex int, toIndex int) (audit.LedgerReport, error)
}

// InputRunAudit is the input for the run_audit tool.
type InputRunAudit struct {
	TaskID       string         `json:"task_id"`
	Target       string         `json:"target"`
	Claim        map[string]any `json:"claim"`
	WorkingState map[string]any `json:"working_state,omitempty"`
}

// InputGetAuditResult is the input for the get_audit_result tool.
type InputGetAuditResult struct {
	TaskID  string `json:"task_id"`
	History bool   `json:"history,omitempty"`
}

// InputListAuditResults is the input for the list_audit_results tool.
type InputListAuditResults struct {
	Status   string `json:"status,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// InputVerifyLedger is the input for the verify_ledger tool. Nil bounds
// select the whole chain.
type InputVerifyLedger struct {
	From *int `json:"from,omitempty"`
	To   *int `json:"to,omitempty"`
}

// Tools holds the tool handlers bound to one backend.
type Tools struct {
	backend AuditBackend
}

// NewTools binds the handlers to backend.
func NewTools(backend AuditBackend) *Tools {
	return &Tools{backend: backend}
}

// RunAudit audits a claim. A blocking verdict is returned as output, not as an
// error; only aborted audits that produced no verdict fail the call.
func (tools *Tools) RunAudit(executionContext context.Context, _ *mcp.CallToolRequest, input InputRunAudit) (*mcp.CallToolResult, any, error) {
	result, runError := tools.backend.RunAudit(executionContext, audit.RunRequest{
		TaskID:       input.TaskID,
		Target:       input.Target,
		Claim:        input.Claim,
		WorkingState: input.WorkingState,
	})
	if runError != nil {
		if len(result.AuditID) == 0 {
			return nil, nil, runError
		}
		if errors.Is(runError, evidence.ErrClaimSchema) {
			return nil, nil, fmt.Errorf(auditFailedErrorTemplateConstant, result.AuditID, result.Status, runError)
		}
	}
	return nil, result, nil
}

// GetAuditResult returns the latest verdict or the full history for a task.
func (tools *Tools) GetAuditResult(executionContext context.Context, _ *mcp.CallToolRequest, input InputGetAuditResult) (*mcp.CallToolResult, any, error) {
	taskID := strings.TrimSpace(input.TaskID)
	if len(taskID) == 0 {
		return nil, nil, errors.New(taskIDRequiredMessageConstant)
	}
	if input.History {
		history, historyError := tools.backend.History(executionContext, taskID)
		if historyError != nil {
			return nil, nil, historyError
		}
		if len(history) == 0 {
			return nil, nil, verdict.ErrResultNotFound
		}
		return nil, history, nil
	}
	stored, resultError := tools.backend.Result(executionContext, taskID)
	if resultError != nil {
		return nil, nil, resultError
	}
	return nil, stored, nil
}

// ListAuditResults returns one page of stored verdicts.
func (tools *Tools) ListAuditResults(executionContext context.Context, _ *mcp.CallToolRequest, input InputListAuditResults) (*mcp.CallToolResult, any, error) {
	filter := verdict.Filter{TaskID: strings.TrimSpace(input.TaskID)}
	if len(strings.TrimSpace(input.Status)) > 0 {
		status, known := evidence.ParseAuditStatus(input.Status)
		if !known {
			return nil, nil, fmt.Errorf(unknownStatusErrorTemplateConstant, input.Status)
		}
		filter.Status = status
	}
	listing, listError := tools.backend.List(executionContext, filter, verdict.Page{Number: input.Page, Size: input.PageSize})
	if listError != nil {
		return nil, nil, listError
	}
	return nil, listing, nil
}

// VerifyLedger checks the evidence chain. A broken chain is reported in the
// output with valid set to false.
func (tools *Tools) VerifyLedger(_ context.Context, _ *mcp.CallToolRequest, input InputVerifyLedger) (*mcp.CallToolResult, any, error) {
	fromIndex, toIndex := -1, -1
	if input.From != nil {
		fromIndex = *input.From
	}
	if input.To != nil {
		toIndex = *input.To
	}
	report, verifyError := tools.backend.VerifyLedger(fromIndex, toIndex)
	if verifyError != nil {
		return nil, nil, verifyError
	}
	return nil, report, nil
}
