// Package encryption seals secrets stored in configuration files.
//
// A sealed value is "enc:" followed by base64(nonce || ciphertext) under
// AES-256-GCM or ChaCha20-Poly1305. The key is any passphrase; it is
// hashed with SHA-256.
//
//	enc, err := encryption.New(os.Getenv("BROKERSEC_SECRET_KEY"))
//	sealed, err := encryption.Seal(enc, "changeit")
//	plain, err := encryption.Open(enc, sealed)
package encryption
