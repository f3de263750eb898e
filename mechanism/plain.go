package mechanism

import (
	"bytes"
	"context"
	"unicode/utf8"
)

// PlainFactory creates PLAIN instances: authzid NUL authcid NUL passwd in
// a single message.
type PlainFactory struct{}

// Descriptor implements Factory.
func (PlainFactory) Descriptor() Descriptor {
	return Descriptor{Name: PlainName, Precedence: 0, DefaultPermitted: true}
}

// New implements Factory. The domain must be a PasswordVerifier.
func (PlainFactory) New(_ ConnectionInfo, domain SecurityDomain) (Mechanism, error) {
	v, ok := domain.(PasswordVerifier)
	if !ok {
		return nil, unsupportedDomain(PlainName, domain)
	}
	return &plain{verifier: v}, nil
}

type plain struct {
	exchange
	verifier PasswordVerifier
}

func (m *plain) Step(ctx context.Context, resp []byte) (Result, error) {
	prompt, err := m.next(resp)
	if err != nil {
		return Result{}, err
	}
	if prompt {
		return Challenge(nil), nil
	}

	authzid, user, pass, err := parsePlain(resp)
	if err != nil {
		return Result{}, err
	}
	id, err := m.verifier.VerifyPassword(ctx, authzid, user, pass)
	if err != nil {
		return Result{}, err
	}
	return Success(id), nil
}

func (m *plain) Dispose() { m.verifier = nil }

func parsePlain(msg []byte) (authzid, user, pass string, err error) {
	parts := bytes.Split(msg, []byte{0})
	if len(parts) != 3 || len(parts[1]) == 0 || len(parts[2]) == 0 {
		return "", "", "", errMalformed
	}
	for _, p := range parts {
		if len(p) > maxFieldLen {
			return "", "", "", errFieldTooLong
		}
		if !utf8.Valid(p) {
			return "", "", "", errMalformed
		}
	}
	return string(parts[0]), string(parts[1]), string(parts[2]), nil
}
