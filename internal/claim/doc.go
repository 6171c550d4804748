// Package claim parses completion claims from JSON or YAML and validates them
// against the claim schema before any verification pass starts.
package claim
