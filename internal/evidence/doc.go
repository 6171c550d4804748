// Package evidence defines the shared vocabulary of the audit verification
// engine: claims, evidence items and observations, discrepancies, pass
// records, and audit results, together with the typed errors that every
// component uses to classify failures.
//
// The package carries no behavior beyond value helpers so that the ledger,
// collectors, orchestrator, reconciler, and reporter can depend on it without
// depending on each other.
package evidence
