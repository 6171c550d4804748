// Package ledger implements the append-only, hash-chained evidence ledger.
//
// Every stored item commits to its predecessor through PreviousHash, starting
// from GenesisHash, so VerifyChain detects any record mutated after append.
// Appends are serialized through a single writer goroutine; readers observe
// consistent snapshots. Payloads live outside the ledger in a content-addressed
// PayloadStore and are referenced by their SHA-256 digest.
//
// A ledger whose persisted chain fails verification on open is sealed: it can
// still be inspected and verified but refuses new appends, and its records are
// never rewritten.
package ledger
