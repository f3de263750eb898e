package mechanism

import (
	"context"
	"unicode/utf8"
)

// AnonymousIdentityName is the identity given to anonymous peers when the
// domain has no policy of its own.
const AnonymousIdentityName = "anonymous"

// AnonymousFactory creates ANONYMOUS instances. The optional message is a
// trace string. ANONYMOUS is never advertised without an allow-list.
type AnonymousFactory struct{}

// Descriptor implements Factory.
func (AnonymousFactory) Descriptor() Descriptor {
	return Descriptor{Name: AnonymousName, Precedence: 10, DefaultPermitted: false}
}

// New implements Factory. Any domain can serve ANONYMOUS.
func (AnonymousFactory) New(_ ConnectionInfo, domain SecurityDomain) (Mechanism, error) {
	m := &anonymous{}
	if a, ok := domain.(AnonymousAuthenticator); ok {
		m.policy = a
	}
	return m, nil
}

type anonymous struct {
	exchange
	policy AnonymousAuthenticator
}

func (m *anonymous) Step(ctx context.Context, resp []byte) (Result, error) {
	prompt, err := m.next(resp)
	if err != nil {
		return Result{}, err
	}
	if prompt {
		return Challenge(nil), nil
	}

	if !utf8.Valid(resp) {
		return Result{}, errMalformed
	}
	if utf8.RuneCount(resp) > maxFieldLen {
		return Result{}, errFieldTooLong
	}
	trace := string(resp)

	if m.policy == nil {
		return Success(Identity{Name: AnonymousIdentityName}), nil
	}
	id, err := m.policy.AuthenticateAnonymous(ctx, trace)
	if err != nil {
		return Result{}, err
	}
	return Success(id), nil
}

func (m *anonymous) Dispose() { m.policy = nil }
