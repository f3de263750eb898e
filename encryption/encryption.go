package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor seals and opens configuration secrets.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Algorithm names a supported AEAD.
type Algorithm string

const (
	// AlgorithmAESGCM is AES-256-GCM (default).
	AlgorithmAESGCM Algorithm = "aes-256-gcm"
	// AlgorithmChaCha20 is ChaCha20-Poly1305.
	AlgorithmChaCha20 Algorithm = "chacha20-poly1305"
)

// Option configures New.
type Option func(*options)

type options struct {
	algorithm Algorithm
}

// WithAlgorithm selects the AEAD. Defaults to AES-256-GCM.
func WithAlgorithm(alg Algorithm) Option {
	return func(o *options) { o.algorithm = alg }
}

// New creates an Encryptor. The key is hashed with SHA-256 to the 32 bytes
// both algorithms need.
func New(key string, opts ...Option) (Encryptor, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption: empty key")
	}
	o := &options{algorithm: AlgorithmAESGCM}
	for _, opt := range opts {
		opt(o)
	}

	sum := sha256.Sum256([]byte(key))
	var (
		aead cipher.AEAD
		err  error
	)
	switch o.algorithm {
	case AlgorithmAESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(sum[:]); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case AlgorithmChaCha20:
		aead, err = chacha20poly1305.New(sum[:])
	default:
		return nil, fmt.Errorf("encryption: unknown algorithm %q", o.algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return &aeadEncryptor{aead: aead}, nil
}

type aeadEncryptor struct {
	aead cipher.AEAD
}

// Encrypt returns base64(nonce || ciphertext).
func (e *aeadEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *aeadEncryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	n := e.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
