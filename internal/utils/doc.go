// Package utils hosts the ambient plumbing shared by the auditgate commands:
// the Viper-backed ConfigurationLoader, the zap LoggerFactory, and the
// command context accessor that carries the resolved audit configuration.
package utils
