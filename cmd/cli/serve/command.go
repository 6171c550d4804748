// Package serve wires the long-running HTTP and MCP front ends onto an audit
// service.
package serve

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/audit"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/httpapi"
	"github.com/temirov/auditgate/internal/mcpserver"
)

const (
	serveCommandUseConstant              = "serve"
	serveCommandShortDescriptionConstant = "Serve audits to other processes"
	httpCommandUseConstant               = "http"
	httpCommandShortDescriptionConstant  = "Serve the JSON HTTP API"
	mcpCommandUseConstant                = "mcp"
	mcpCommandShortDescriptionConstant   = "Serve audit tools over MCP on stdin and stdout"
	listenFlagNameConstant               = "listen"
	listenFlagDescriptionConstant        = "Address to listen on (default: server.listen_address from configuration)."
	developmentVersionConstant           = "dev"
)

// VersionProvider supplies the version reported to MCP clients.
type VersionProvider func() string

// CommandBuilder assembles the `serve` command tree.
type CommandBuilder struct {
	LoggerProvider        audit.LoggerProvider
	ConfigurationProvider audit.ConfigurationProvider
	VersionProvider       VersionProvider
	ServiceOptions        audit.ServiceOptions
}

// Build constructs `serve` with http and mcp subcommands.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   serveCommandUseConstant,
		Short: serveCommandShortDescriptionConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	httpCommand := &cobra.Command{
		Use:   httpCommandUseConstant,
		Short: httpCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.serveHTTP,
	}
	httpCommand.Flags().String(listenFlagNameConstant, "", listenFlagDescriptionConstant)

	mcpCommand := &cobra.Command{
		Use:   mcpCommandUseConstant,
		Short: mcpCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.serveMCP,
	}

	command.AddCommand(httpCommand, mcpCommand)
	return command, nil
}

func (builder *CommandBuilder) serveHTTP(command *cobra.Command, arguments []string) error {
	listenAddress, _ := command.Flags().GetString(listenFlagNameConstant)
	return builder.withService(command, func(executionContext context.Context, service *audit.Service, logger *zap.Logger) error {
		if len(strings.TrimSpace(listenAddress)) == 0 {
			listenAddress = service.Configuration().Server.ListenAddress
		}
		return httpapi.ListenAndServe(executionContext, listenAddress, service, logger)
	})
}

func (builder *CommandBuilder) serveMCP(command *cobra.Command, arguments []string) error {
	return builder.withService(command, func(executionContext context.Context, service *audit.Service, logger *zap.Logger) error {
		return mcpserver.ServeStdio(executionContext, service, builder.version(), logger)
	})
}

func (builder *CommandBuilder) withService(command *cobra.Command, serve func(context.Context, *audit.Service, *zap.Logger) error) error {
	executionContext, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zap.NewNop()
	if builder.LoggerProvider != nil {
		if providedLogger := builder.LoggerProvider(); providedLogger != nil {
			logger = providedLogger
		}
	}
	configuration := config.DefaultAuditConfig()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}

	options := builder.ServiceOptions
	options.Logger = logger
	service, openError := audit.OpenService(executionContext, configuration, options)
	if openError != nil {
		return openError
	}
	defer service.Close()
	return serve(executionContext, service, logger)
}

func (builder *CommandBuilder) version() string {
	if builder.VersionProvider == nil {
		return developmentVersionConstant
	}
	return builder.VersionProvider()
}
