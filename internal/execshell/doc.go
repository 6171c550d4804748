// Package execshell runs the external tools collectors depend on.
//
// ShellExecutor wraps a CommandRunner with structured logging and lifecycle
// notifications; OSCommandRunner is the os/exec implementation. Collectors
// invoke git and the go tool through the Execute* helpers so tests can swap
// in recording runners.
package execshell
