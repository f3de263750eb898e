package domain

import (
	stderrors "errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Supported token signing methods.
const (
	HS256 = "HS256"
	HS384 = "HS384"
	HS512 = "HS512"
)

// tokenVerifier checks HMAC-signed JWT bearer tokens.
type tokenVerifier struct {
	method   gojwt.SigningMethod
	secret   []byte
	issuer   string
	audience string
}

func newTokenVerifier(cfg TokenConfig) *tokenVerifier {
	v := &tokenVerifier{
		method:   signingMethod(cfg.Method),
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
	return v
}

func signingMethod(name string) gojwt.SigningMethod {
	switch name {
	case HS384:
		return gojwt.SigningMethodHS384
	case HS512:
		return gojwt.SigningMethodHS512
	default:
		return gojwt.SigningMethodHS256
	}
}

// parse validates the token and returns its registered claims.
func (v *tokenVerifier) parse(token string) (*gojwt.RegisteredClaims, error) {
	claims := &gojwt.RegisteredClaims{}
	parsed, err := gojwt.ParseWithClaims(token, claims, v.keyFunc, v.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("domain: parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, stderrors.New("domain: invalid token")
	}
	if claims.Subject == "" {
		return nil, stderrors.New("domain: token has no subject")
	}
	return claims, nil
}

func (v *tokenVerifier) keyFunc(token *gojwt.Token) (interface{}, error) {
	if token.Method.Alg() != v.method.Alg() {
		return nil, fmt.Errorf("domain: unexpected signing method: %s", token.Method.Alg())
	}
	return v.secret, nil
}

func (v *tokenVerifier) parserOptions() []gojwt.ParserOption {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{v.method.Alg()}),
		gojwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, gojwt.WithAudience(v.audience))
	}
	return opts
}
