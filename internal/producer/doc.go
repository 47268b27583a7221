// Package producer owns one outbound line-framed link per upstream producer.
//
// Ownership boundary:
// - dial with connect timeout and capped exponential reconnect backoff
// - newline read loop, blank-line skipping, frame decode
// - forwarding decoded records to a Submitter
//
// Decode failures are diagnostics; they never end the connection.
package producer
