// Package config defines the audit engine configuration, its defaults, and
// the sanitization applied after loading.
package config
