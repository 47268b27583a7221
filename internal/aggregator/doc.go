// Package aggregator owns the round barrier and the consistency check.
//
// Ownership boundary:
// - per-round record collection keyed by producer
// - barrier release once every expected producer has reported
// - consistency evaluation and explicit round reset
//
// All state is guarded by one mutex; a submission and the evaluation it
// releases happen under the same critical section, so each round is
// evaluated exactly once.
package aggregator
