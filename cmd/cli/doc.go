// Package cli constructs the auditgate command-line interface: the Cobra
// command hierarchy, layered configuration loading and structured logging.
package cli
