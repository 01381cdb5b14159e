// Package session owns request/reply correlation on one protocol stream.
//
// Ownership boundary:
// - pending request table, timeouts and cancellation
// - notification dispatch for unsolicited messages
// - Conn: reader loop, transfer reassembly, capability exchange
// - retry/backoff primitives for client reconnects
package session
