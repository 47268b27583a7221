// Package relay is the runtime coordinator.
//
// Ownership boundary:
// - subscriber listener lifetime
// - one producer connection per configured endpoint
// - handing each released round to the broadcaster
// - supervision of attached components (admin HTTP, terminal monitor)
//
// Producer failures are reported and never stop the service; only listener
// bind failures and attached component errors end Serve.
package relay
