// Package daemon serves the management protocol over TCP.
//
// Ownership boundary:
// - accepting connections and running one session per peer
//
// - answering keepalive, echo, inventory and file upload commands
//
// - recording one-way notifications
//
// - the admin HTTP surface (health, metrics, sessions, notices)
//
// The daemon does not own the wire format; framing, correlation and
// transfer reassembly live in internal/protocol.
package daemon
