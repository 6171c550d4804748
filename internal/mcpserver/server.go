package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	serverNameConstant            = "auditgate"
	serverStartingMessageConstant = "mcp server starting on stdio"
	logFieldToolsConstant         = "tools"
)

// NewServer registers the audit tools on a new MCP server.
func NewServer(backend AuditBackend, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverNameConstant, Version: version}, nil)
	tools := NewTools(backend)
	mcp.AddTool(server, MetadataRunAudit, tools.RunAudit)
	mcp.AddTool(server, MetadataGetAuditResult, tools.GetAuditResult)
	mcp.AddTool(server, MetadataListAuditResults, tools.ListAuditResults)
	mcp.AddTool(server, MetadataVerifyLedger, tools.VerifyLedger)
	return server
}

// ServeStdio serves the audit tools over stdin and stdout until the client
// disconnects or executionContext is cancelled.
func ServeStdio(executionContext context.Context, backend AuditBackend, version string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info(serverStartingMessageConstant, zap.Strings(logFieldToolsConstant, ToolNames()))
	return NewServer(backend, version).Run(executionContext, &mcp.StdioTransport{})
}

// ToolNames lists the registered tools in registration order.
func ToolNames() []string {
	return []string{
		MetadataRunAudit.Name,
		MetadataGetAuditResult.Name,
		MetadataListAuditResults.Name,
		MetadataVerifyLedger.Name,
	}
}
