package mechanism

import (
	stderrors "errors"
	"fmt"
)

// Built-in mechanism names.
const (
	PlainName       = "PLAIN"
	AnonymousName   = "ANONYMOUS"
	ExternalName    = "EXTERNAL"
	OAuthBearerName = "OAUTHBEARER"
)

func init() {
	Register(PlainFactory{})
	Register(AnonymousFactory{})
	Register(ExternalFactory{})
	Register(OAuthBearerFactory{})
}

// maxFieldLen bounds every identity and credential field.
const maxFieldLen = 255

var (
	errMalformed     = stderrors.New("mechanism: malformed message")
	errAlreadyDone   = stderrors.New("mechanism: exchange already complete")
	errNoPeerCert    = stderrors.New("mechanism: peer presented no certificate")
	errTokenRejected = stderrors.New("mechanism: bearer token rejected")
	errFieldTooLong  = fmt.Errorf("mechanism: field exceeds %d bytes", maxFieldLen)
)

func unsupportedDomain(mech string, d SecurityDomain) error {
	name := "<nil>"
	if d != nil {
		name = d.Name()
	}
	return fmt.Errorf("mechanism: security domain %q cannot serve %s", name, mech)
}

// exchange tracks the common shape of single-message mechanisms: an
// absent initial response earns one empty challenge, after which exactly
// one message is accepted.
type exchange struct {
	prompted bool
	done     bool
}

// next reports whether the caller should prompt, and fails once the
// single message has been consumed.
func (e *exchange) next(resp []byte) (prompt bool, err error) {
	if e.done {
		return false, errAlreadyDone
	}
	if resp == nil && !e.prompted {
		e.prompted = true
		return true, nil
	}
	e.done = true
	return false, nil
}
