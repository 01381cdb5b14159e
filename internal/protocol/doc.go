// Package protocol owns the message contract and its wire form.
//
// Ownership boundary:
// - frame header primitives (code, flags, length, correlation id)
// - Message: keyed typed fields or a raw binary/control body
// - whole-message encode/decode, body compression
// - XML rendering for tooling and logs
//
// Field ids are opaque to this package. Named command codes and field ids
// belong to the application layer (see package schema).
package protocol
