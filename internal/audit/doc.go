// Package audit assembles the audit engine from configuration and exposes it
// to the command line.
//
// Service owns the long-lived pieces (evidence ledger, verdict history,
// orchestrator) and is shared by the cobra commands, the HTTP API and the MCP
// server. CommandBuilder and LedgerCommandBuilder produce the `audit` and
// `ledger` command trees.
package audit
