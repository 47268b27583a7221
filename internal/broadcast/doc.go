// Package broadcast owns the downstream subscriber set.
//
// Ownership boundary:
// - inbound accept loop and subscriber registration
// - disconnect detection (subscribers are write-only sinks; inbound bytes
//   are discarded)
// - best-effort fan-out of result lines with per-subscriber write deadlines
package broadcast
