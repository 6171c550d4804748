// Package gitrepo inspects Git working trees for the version control
// collector: changes against a base revision, untracked files, and commit
// counts, all scoped to the audited directory.
package gitrepo
