// ABOUTME: Package policy classifies provider faults and error events by severity.
// ABOUTME: TOML-configured, hot-reloaded; unknown events default to recoverable.

// Package policy holds the fault-severity policy.
//
// The protocol does not say which provider faults are fatal for a
// connection's lifecycle, so the mapping is configuration: a TOML file
// lists the errorEvent names and fault error ids considered
// unrecoverable. Anything not listed is treated as recoverable and the
// engine records it as an anomaly only. The file is watched with fsnotify
// and swapped atomically on change.
package policy
