// Package ui renders audit activity for people at a terminal: shell command
// lifecycle events routed through zap, and colored verdict summaries.
package ui
