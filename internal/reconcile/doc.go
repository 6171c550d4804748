// Package reconcile turns ledger evidence into discrepancies against a claim
// and scores the three verification passes into a verdict.
//
// Facts are resolved per field from the highest-trust source that reported
// them. Only the resolved fact is compared with the claim, so a low-trust
// source disagreeing with a higher one never produces a second finding.
package reconcile
