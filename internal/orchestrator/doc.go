// Package orchestrator drives an audit through its verification passes.
//
// An audit moves Idle → PassA → PassB → PassC → Reconciling → Complete, or to
// Aborted on a chain integrity failure, a malformed claim, or the audit
// deadline. Pass A collectors see the executor's own claim and working
// state; pass B collectors are built fresh and see only the target. Pass C
// reads the raw evidence of both and may only add discrepancies.
package orchestrator
