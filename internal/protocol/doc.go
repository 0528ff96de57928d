// Package protocol owns the wire contract and framing primitives.
//
// Ownership boundary:
// - fixed-width decimal length header
// - frame read/write primitives
// - wire-level error taxonomy
package protocol
