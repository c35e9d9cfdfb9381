// Package crypto encrypts credential blobs at rest using AES-GCM, per
// SESSION_ENCRYPTION_KEY (see EXTERNAL INTERFACES). No third-party AEAD
// implementation improves on the standard library's constant-time AES-GCM,
// so this package is deliberately stdlib-only; see DESIGN.md for the
// justification.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrCiphertextTooShort is returned when a stored blob is shorter than the
// minimum nonce+tag overhead and cannot be a valid ciphertext.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Vault encrypts and decrypts credential blobs with a single 32-byte key.
// Wire layout: nonce (12 bytes) || ciphertext-with-tag, base64-encoded for
// storage (the GCM tag is appended by Seal/verified by Open, not a separate
// field in the layout).
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives a 256-bit AES key from seed (SESSION_ENCRYPTION_KEY) via
// SHA-256, so operators may supply a passphrase of any length.
func NewVault(seed string) (*Vault, error) {
	if seed == "" {
		return nil, errors.New("crypto: SESSION_ENCRYPTION_KEY must not be empty")
	}
	key := sha256.Sum256([]byte(seed))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM mode: %w", err)
	}
	return &Vault{aead: gcm}, nil
}

// Seal encrypts plaintext and returns a base64 string suitable for storage
// in the auth.data / CredentialStore columns.
func (v *Vault) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64 blob produced by Seal.
func (v *Vault) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding base64: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize+v.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting: %w", err)
	}
	return plaintext, nil
}
