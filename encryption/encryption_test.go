package encryption

import (
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmAESGCM, AlgorithmChaCha20} {
		t.Run(string(alg), func(t *testing.T) {
			enc, err := New("passphrase", WithAlgorithm(alg))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			for _, plain := range []string{"", "changeit", "unicode ✓ ключ"} {
				ct, err := enc.Encrypt(plain)
				if err != nil {
					t.Fatalf("Encrypt failed: %v", err)
				}
				got, err := enc.Decrypt(ct)
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if got != plain {
					t.Errorf("expected %q, got %q", plain, got)
				}
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, _ := New("passphrase")
	a, _ := enc.Encrypt("same")
	b, _ := enc.Encrypt("same")
	if a == b {
		t.Error("expected different ciphertexts for the same plaintext")
	}
}

func TestDecryptFailures(t *testing.T) {
	enc, _ := New("passphrase")
	other, _ := New("other")
	ct, _ := other.Encrypt("changeit")

	tests := []struct {
		name string
		in   string
	}{
		{"not base64", "%%%"},
		{"too short", "AAAA"},
		{"wrong key", ct},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tc.in); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected empty key to fail")
	}
	if _, err := New("k", WithAlgorithm("rot13")); err == nil {
		t.Error("expected unknown algorithm to fail")
	}
}

func TestSealOpen(t *testing.T) {
	enc, _ := New("passphrase")
	sealed, err := Seal(enc, "changeit")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsSealed(sealed) || !strings.HasPrefix(sealed, "enc:") {
		t.Fatalf("expected sealed value, got %q", sealed)
	}
	got, err := Open(enc, sealed)
	if err != nil || got != "changeit" {
		t.Errorf("expected changeit, got %q, %v", got, err)
	}

	if got, err := Open(nil, "plain"); err != nil || got != "plain" {
		t.Errorf("expected plain values to pass through, got %q, %v", got, err)
	}
	if _, err := Open(nil, sealed); err == nil {
		t.Error("expected sealed value without key to fail")
	}
}

func TestOpenAll(t *testing.T) {
	enc, _ := New("passphrase")
	sealed, _ := Seal(enc, "s3cret")
	keystore, token := sealed, "plain"

	err := OpenAll(enc, map[string]*string{"keystore_password": &keystore, "token": &token, "unset": nil})
	if err != nil {
		t.Fatalf("OpenAll failed: %v", err)
	}
	if keystore != "s3cret" || token != "plain" {
		t.Errorf("unexpected values %q %q", keystore, token)
	}

	bad := "enc:%%%"
	if err := OpenAll(enc, map[string]*string{"truststore_password": &bad}); err == nil || !strings.Contains(err.Error(), "truststore_password") {
		t.Errorf("expected field name in error, got %v", err)
	}
}
