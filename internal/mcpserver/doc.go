// Package mcpserver exposes audits to agents over the Model Context Protocol.
package mcpserver
