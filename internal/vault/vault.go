// Package vault seals and unseals stored PMS API keys.
//
// The storage format is "<iv_hex>:<ciphertext_hex>" with AES-256-CTR,
// the cipher key derived as SHA-256 of a shared secret. Rows written by
// earlier deployments use the same layout, so the format is fixed.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedCiphertext reports a stored value that does not
	// follow the iv:ciphertext hex layout.
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")

	// ErrSecretRequired reports a missing shared secret.
	ErrSecretRequired = errors.New("vault: shared secret is required")
)

// Vault encrypts and decrypts credential material with a key derived
// from a shared secret.
type Vault struct {
	key [32]byte
}

// New derives the AES-256 key from the shared secret.
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Vault{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt seals plaintext into the iv:ciphertext hex format using a
// fresh random 16-byte IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt unseals a value previously produced by Encrypt.
func (v *Vault) Decrypt(sealed string) (string, error) {
	ivHex, cipherHex, ok := strings.Cut(sealed, ":")
	if !ok {
		return "", ErrMalformedCiphertext
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformedCiphertext
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return string(plaintext), nil
}
