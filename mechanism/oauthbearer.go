package mechanism

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OAuthBearerFactory creates OAUTHBEARER instances (RFC 7628). A rejected
// token earns an error challenge; the peer answers it with a single 0x01
// byte and the exchange then fails.
type OAuthBearerFactory struct{}

// Descriptor implements Factory.
func (OAuthBearerFactory) Descriptor() Descriptor {
	return Descriptor{Name: OAuthBearerName, Precedence: 5, DefaultPermitted: true}
}

// New implements Factory. The domain must be a TokenVerifier.
func (OAuthBearerFactory) New(_ ConnectionInfo, domain SecurityDomain) (Mechanism, error) {
	v, ok := domain.(TokenVerifier)
	if !ok {
		return nil, unsupportedDomain(OAuthBearerName, domain)
	}
	return &oauthBearer{verifier: v}, nil
}

const kvsep = "\x01"

type oauthBearer struct {
	exchange
	verifier TokenVerifier
	// cause is set once the token was rejected and the error challenge sent.
	cause error
}

type oauthError struct {
	Status string `json:"status"`
}

func (m *oauthBearer) Step(ctx context.Context, resp []byte) (Result, error) {
	if m.cause != nil {
		cause := m.cause
		m.cause = nil
		if string(resp) != kvsep {
			return Result{}, errMalformed
		}
		return Result{}, fmt.Errorf("%w: %w", errTokenRejected, cause)
	}

	prompt, err := m.next(resp)
	if err != nil {
		return Result{}, err
	}
	if prompt {
		return Challenge(nil), nil
	}

	authzid, token, err := parseOAuthBearer(string(resp))
	if err != nil {
		return Result{}, err
	}
	id, err := m.verifier.VerifyToken(ctx, authzid, token)
	if err != nil {
		m.cause = err
		body, _ := json.Marshal(oauthError{Status: "invalid_token"})
		return Challenge(body), nil
	}
	return Success(id), nil
}

func (m *oauthBearer) Dispose() {
	m.verifier = nil
	m.cause = nil
}

// parseOAuthBearer parses gs2-header 0x01 *(key=value 0x01) 0x01.
func parseOAuthBearer(msg string) (authzid, token string, err error) {
	header, rest, ok := strings.Cut(msg, kvsep)
	if !ok || (rest != kvsep && !strings.HasSuffix(rest, kvsep+kvsep)) {
		return "", "", errMalformed
	}

	authzid, err = parseGS2Header(header)
	if err != nil {
		return "", "", err
	}

	body := strings.TrimSuffix(strings.TrimSuffix(rest, kvsep), kvsep)
	for _, kv := range strings.Split(body, kvsep) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return "", "", errMalformed
		}
		if key != "auth" {
			continue
		}
		scheme, credentials, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || credentials == "" {
			return "", "", errMalformed
		}
		return authzid, credentials, nil
	}
	return "", "", fmt.Errorf("%w: missing auth key", errMalformed)
}

// parseGS2Header accepts "n,," "y,," or either with "a=authzid" in the
// middle. Channel binding ("p=") is not supported.
func parseGS2Header(h string) (string, error) {
	parts := strings.Split(h, ",")
	if len(parts) != 3 || parts[2] != "" {
		return "", errMalformed
	}
	if parts[0] != "n" && parts[0] != "y" {
		return "", errMalformed
	}
	if parts[1] == "" {
		return "", nil
	}
	authzid, ok := strings.CutPrefix(parts[1], "a=")
	if !ok || authzid == "" || len(authzid) > maxFieldLen {
		return "", errMalformed
	}
	return authzid, nil
}
