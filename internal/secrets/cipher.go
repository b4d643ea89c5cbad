package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Cipher encrypts credentials at rest using AES-256-GCM. The key is derived
// from an operator-supplied master secret. When no secret is configured the
// cipher degrades to plaintext passthrough so the service keeps working on
// fresh installs before hardening.
type Cipher struct {
	key []byte
}

var errCiphertextTooShort = errors.New("secrets: ciphertext shorter than nonce")

// NewCipher derives a 32-byte key from the master secret. An empty secret
// yields a passthrough cipher.
func NewCipher(masterSecret string) *Cipher {
	trimmed := strings.TrimSpace(masterSecret)
	if trimmed == "" {
		return &Cipher{}
	}
	hash := sha256.Sum256([]byte(trimmed))
	return &Cipher{key: hash[:]}
}

// Enabled reports whether a master secret is configured.
func (c *Cipher) Enabled() bool {
	return len(c.key) == 32
}

// Encrypt seals the plaintext and returns a hex-encoded nonce+ciphertext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Passthrough ciphers return the input untouched.
func (c *Cipher) Decrypt(ciphertextHex string) (string, error) {
	if !c.Enabled() || ciphertextHex == "" {
		return ciphertextHex, nil
	}

	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("secrets: decode hex: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: create gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errCiphertextTooShort
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	return string(plaintext), nil
}
