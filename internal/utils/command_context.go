package utils

import (
	"context"

	"github.com/temirov/auditgate/internal/config"
)

const (
	configurationFilePathContextKeyConstant = commandContextKey("configurationFilePath")
	auditConfigurationContextKeyConstant    = commandContextKey("auditConfiguration")
)

type commandContextKey string

// CommandContextAccessor manages values stored in command execution contexts.
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor instance.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

// WithConfigurationFilePath attaches the configuration file path to the provided context.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePath extracts the configuration file path from the provided context.
func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	configurationFilePath, available := executionContext.Value(configurationFilePathContextKeyConstant).(string)
	return configurationFilePath, available
}

// WithAuditConfiguration attaches the sanitized audit configuration.
func (accessor CommandContextAccessor) WithAuditConfiguration(parentContext context.Context, configuration config.AuditConfig) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, auditConfigurationContextKeyConstant, configuration)
}

// AuditConfiguration returns the attached audit configuration, or the
// defaults when none was attached.
func (accessor CommandContextAccessor) AuditConfiguration(executionContext context.Context) config.AuditConfig {
	if executionContext != nil {
		if configuration, available := executionContext.Value(auditConfigurationContextKeyConstant).(config.AuditConfig); available {
			return configuration
		}
	}
	return config.DefaultAuditConfig()
}
