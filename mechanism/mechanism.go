package mechanism

import (
	"context"
	"crypto/tls"
	"crypto/x509"
)

// Descriptor describes an installed mechanism.
type Descriptor struct {
	// Name is the registered mechanism name, e.g. "PLAIN".
	Name string `json:"name"`
	// Precedence orders advertisement; higher is preferred.
	Precedence int `json:"precedence"`
	// DefaultPermitted mechanisms are advertised without an explicit
	// allow-list. Weak mechanisms leave it false and need operator opt-in.
	DefaultPermitted bool `json:"default_permitted"`
}

// Identity is the authenticated principal produced by a mechanism.
type Identity struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ConnectionInfo carries the connection facts a mechanism may consult.
type ConnectionInfo struct {
	ID         string
	Listener   string
	RemoteAddr string
	// TLS is nil on plaintext connections.
	TLS *tls.ConnectionState
}

// PeerCertificates returns the certificates presented by the peer.
func (c ConnectionInfo) PeerCertificates() []*x509.Certificate {
	if c.TLS == nil {
		return nil
	}
	return c.TLS.PeerCertificates
}

// Result is the outcome of one mechanism step. When Done is false the
// Challenge (possibly empty) must be sent and the peer's response fed to
// the next Step.
type Result struct {
	Challenge []byte
	Done      bool
	Identity  Identity
}

// Challenge returns a Result asking the peer for another response.
func Challenge(data []byte) Result {
	if data == nil {
		data = []byte{}
	}
	return Result{Challenge: data}
}

// Success returns a terminal Result for id.
func Success(id Identity) Result {
	return Result{Done: true, Identity: id}
}

// Mechanism is one per-connection instance of an authentication
// mechanism. It frames and parses messages and delegates verification to
// the security domain; it never decides on credentials itself.
type Mechanism interface {
	// Step consumes the peer's next message. The first call receives the
	// initial response, nil when the peer sent none. A non-nil error is a
	// rejection.
	Step(ctx context.Context, response []byte) (Result, error)
	// Dispose drops any credential material the instance buffered.
	Dispose()
}

// Factory creates mechanism instances.
type Factory interface {
	Descriptor() Descriptor
	// New binds an instance to a connection and a security domain. It
	// fails when the domain cannot serve the mechanism.
	New(conn ConnectionInfo, domain SecurityDomain) (Mechanism, error)
}
