package domain

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kbukum/brokersec/mechanism"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	h, err := NewBcryptHasher(bcrypt.MinCost).Hash(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return h
}

func newDomain(t *testing.T, mutate func(*Config)) *MemoryDomain {
	t.Helper()
	cfg := Config{
		Name:   "test",
		Users:  []UserConfig{{Name: "alice", PasswordHash: bcryptHash(t, "wonderland")}},
		Tokens: TokenConfig{Secret: testSecret, Issuer: "issuer.example"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestVerifyPassword(t *testing.T) {
	d := newDomain(t, nil)
	tests := []struct {
		name    string
		authzid string
		user    string
		pass    string
		wantErr error
	}{
		{"valid", "", "alice", "wonderland", nil},
		{"valid with own authzid", "alice", "alice", "wonderland", nil},
		{"wrong password", "", "alice", "looking-glass", errInvalidCredentials},
		{"unknown user", "", "bob", "wonderland", errInvalidCredentials},
		{"impersonation", "root", "alice", "wonderland", errImpersonation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := d.VerifyPassword(context.Background(), tc.authzid, tc.user, tc.pass)
			if !stderrors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if err == nil && id.Name != tc.user {
				t.Errorf("expected identity %q, got %q", tc.user, id.Name)
			}
		})
	}
}

func TestVerifyPasswordArgon2(t *testing.T) {
	hash, err := NewArgon2Hasher().Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	d := newDomain(t, func(c *Config) {
		c.Users = append(c.Users, UserConfig{Name: "carol", PasswordHash: hash})
	})

	if _, err := d.VerifyPassword(context.Background(), "", "carol", "s3cret-pass"); err != nil {
		t.Errorf("expected argon2id user to verify, got %v", err)
	}
	if _, err := d.VerifyPassword(context.Background(), "", "carol", "wrong"); err == nil {
		t.Error("expected wrong argon2id password to fail")
	}
}

func TestSetPasswordAndRemoveUser(t *testing.T) {
	d := newDomain(t, nil)
	if err := d.SetPassword("dave", "hunter22", bcrypt.MinCost); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if _, err := d.VerifyPassword(context.Background(), "", "dave", "hunter22"); err != nil {
		t.Errorf("expected new user to verify, got %v", err)
	}
	d.RemoveUser("dave")
	if _, err := d.VerifyPassword(context.Background(), "", "dave", "hunter22"); err == nil {
		t.Error("expected removed user to be rejected")
	}
}

func signToken(t *testing.T, method gojwt.SigningMethod, secret string, claims gojwt.RegisteredClaims) string {
	t.Helper()
	s, err := gojwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return s
}

func TestVerifyToken(t *testing.T) {
	d := newDomain(t, nil)
	future := gojwt.NewNumericDate(time.Now().Add(time.Hour))
	past := gojwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		authzid string
		wantErr bool
	}{
		{"valid", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: future}), "", false},
		{"authzid matches", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: future}), "svc-a", false},
		{"authzid differs", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: future}), "svc-b", true},
		{"expired", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: past}), "", true},
		{"no expiry", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example"}), "", true},
		{"wrong secret", signToken(t, gojwt.SigningMethodHS256, "another-secret", gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: future}), "", true},
		{"wrong method", signToken(t, gojwt.SigningMethodHS512, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "issuer.example", ExpiresAt: future}), "", true},
		{"wrong issuer", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Subject: "svc-a", Issuer: "elsewhere", ExpiresAt: future}), "", true},
		{"no subject", signToken(t, gojwt.SigningMethodHS256, testSecret, gojwt.RegisteredClaims{Issuer: "issuer.example", ExpiresAt: future}), "", true},
		{"garbage", "not-a-jwt", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := d.VerifyToken(context.Background(), tc.authzid, tc.token)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if err == nil {
				if id.Name != "svc-a" || id.Attributes["issuer"] != "issuer.example" {
					t.Errorf("unexpected identity %+v", id)
				}
			}
		})
	}
}

func TestVerifyTokenDisabled(t *testing.T) {
	d := newDomain(t, func(c *Config) { c.Tokens = TokenConfig{} })
	_, err := d.VerifyToken(context.Background(), "", "anything")
	if !stderrors.Is(err, errTokensDisabled) {
		t.Errorf("expected errTokensDisabled, got %v", err)
	}
}

func certWithSubject(cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Broker"}},
	}
}

func TestVerifyCertificate(t *testing.T) {
	tests := []struct {
		name    string
		certs   CertificateConfig
		cn      string
		authzid string
		want    string
		wantErr bool
	}{
		{"common name", CertificateConfig{}, "device-1", "", "device-1", false},
		{"distinguished name", CertificateConfig{Identity: CertIdentityDN}, "device-1", "", "CN=device-1,O=Broker", false},
		{"allowed", CertificateConfig{Allowed: []string{"device-1"}}, "device-1", "", "device-1", false},
		{"not allowed", CertificateConfig{Allowed: []string{"device-2"}}, "device-1", "", "", true},
		{"empty common name", CertificateConfig{}, "", "", "", true},
		{"authzid differs", CertificateConfig{}, "device-1", "device-9", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newDomain(t, func(c *Config) { c.Certificates = tc.certs })
			id, err := d.VerifyCertificate(context.Background(), tc.authzid, []*x509.Certificate{certWithSubject(tc.cn)})
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if err == nil && id.Name != tc.want {
				t.Errorf("expected %q, got %q", tc.want, id.Name)
			}
		})
	}
}

func TestAuthenticateAnonymous(t *testing.T) {
	d := newDomain(t, nil)
	if _, err := d.AuthenticateAnonymous(context.Background(), "x"); !stderrors.Is(err, errAnonymousDenied) {
		t.Errorf("expected anonymous to be denied by default, got %v", err)
	}

	d = newDomain(t, func(c *Config) { c.Anonymous = AnonymousConfig{Enabled: true, Identity: "guest"} })
	id, err := d.AuthenticateAnonymous(context.Background(), "trace-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Name != "guest" || id.Attributes["trace"] != "trace-7" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestConfigValidate(t *testing.T) {
	good := bcryptHash(t, "pw")
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Users: []UserConfig{{Name: "a", PasswordHash: good}}}, false},
		{"duplicate user", Config{Users: []UserConfig{{Name: "a", PasswordHash: good}, {Name: "a", PasswordHash: good}}}, true},
		{"plaintext password", Config{Users: []UserConfig{{Name: "a", PasswordHash: "secret"}}}, true},
		{"missing hash", Config{Users: []UserConfig{{Name: "a"}}}, true},
		{"bad token method", Config{Tokens: TokenConfig{Method: "RS256"}}, true},
		{"bad certificate identity", Config{Certificates: CertificateConfig{Identity: "email"}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ApplyDefaults()
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPlainMechanismOverMemoryDomain(t *testing.T) {
	d := newDomain(t, nil)
	m, err := mechanism.PlainFactory{}.New(mechanism.ConnectionInfo{}, d)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Dispose()

	res, err := m.Step(context.Background(), []byte("\x00alice\x00wonderland"))
	if err != nil || !res.Done || res.Identity.Name != "alice" {
		t.Errorf("expected alice, got %+v %v", res, err)
	}
}
