// Package domain provides MemoryDomain, a reference security domain for
// the built-in mechanisms. Users are configured with bcrypt or argon2id
// password hashes, bearer tokens are HMAC-signed JWTs and certificate
// peers are identified by subject.
package domain
