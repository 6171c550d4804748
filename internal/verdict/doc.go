// Package verdict persists audit results and serves them back.
//
// History is append-only: every audit run stores a new result, re-audits of
// the same task included, and nothing stored is ever rewritten.
package verdict
