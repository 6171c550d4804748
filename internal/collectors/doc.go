// Package collectors gathers evidence about an audited target from
// independent sources.
//
// Each Collector reports a single evidence.Source and returns observations
// whose facts are keyed by claim field names (filesCreated, linesOfCode, ...).
// Collectors never see results from other passes: the Factory builds a fresh
// set for every pass, and only Pass A receives the SelfCheck inputs.
package collectors
