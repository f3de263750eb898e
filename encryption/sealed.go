package encryption

import (
	"fmt"
	"strings"
)

// SealedPrefix marks a configuration value as encrypted.
const SealedPrefix = "enc:"

// IsSealed reports whether v carries SealedPrefix.
func IsSealed(v string) bool { return strings.HasPrefix(v, SealedPrefix) }

// Seal encrypts v and adds SealedPrefix.
func Seal(e Encryptor, v string) (string, error) {
	ct, err := e.Encrypt(v)
	if err != nil {
		return "", err
	}
	return SealedPrefix + ct, nil
}

// Open decrypts a sealed value. Values without SealedPrefix are returned
// unchanged. A nil Encryptor fails on sealed values.
func Open(e Encryptor, v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if e == nil {
		return "", fmt.Errorf("encrypted value found but no secret key configured")
	}
	return e.Decrypt(strings.TrimPrefix(v, SealedPrefix))
}

// OpenAll opens every field in place. On error the fields already opened
// keep their plaintext.
func OpenAll(e Encryptor, fields map[string]*string) error {
	for name, p := range fields {
		if p == nil {
			continue
		}
		v, err := Open(e, *p)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*p = v
	}
	return nil
}
