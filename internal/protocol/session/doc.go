// Package session owns transport policy shared by producer and subscriber
// links.
//
// Ownership boundary:
// - connect/read/write timeouts
// - reconnect backoff and retry limits
package session
