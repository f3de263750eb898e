// Package wire is the reference negotiation framing used by the daemon
// and the tests. Each frame is a one-byte type, a big-endian uint32 length
// and the payload:
//
//	server -> client  mechanisms  "EXTERNAL PLAIN"
//	client -> server  init        name + optional initial response
//	server -> client  challenge   (zero or more rounds)
//	client -> server  response
//	server -> client  outcome     ok, or error code + message
//
// Real broker protocols carry the same exchange in their own codecs.
package wire
