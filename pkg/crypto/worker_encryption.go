// Package crypto encrypts OAuth secrets at rest.
//
// Ciphertexts are rendered as "hex(iv):hex(sealed)" where sealed is the
// AES-256-GCM output (ciphertext followed by the authentication tag).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes (64 hex characters)")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption/decryption
type Encryptor struct {
	gcm cipher.AEAD
	// rand is swapped in tests to make IVs predictable.
	rand io.Reader
}

// NewEncryptor creates a new encryptor with the given raw key
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm, rand: rand.Reader}, nil
}

// NewEncryptorFromHex parses a hex-encoded 32-byte key (the ENCRYPTION_KEY format).
func NewEncryptorFromHex(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewEncryptor(key)
}

// Encrypt seals plaintext under a fresh random IV.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := e.gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong key, a tampered IV or a truncated
// payload all yield an error.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	ivHex, sealedHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", fmt.Errorf("%w: missing iv separator", ErrInvalidCiphertext)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != e.gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad iv", ErrInvalidCiphertext)
	}

	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad payload encoding", ErrInvalidCiphertext)
	}
	if len(sealed) < e.gcm.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrInvalidCiphertext)
	}

	plaintext, err := e.gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// EncryptToken encrypts an OAuth token
func (e *Encryptor) EncryptToken(token string) (string, error) {
	return e.Encrypt(token)
}

// DecryptToken decrypts an OAuth token
func (e *Encryptor) DecryptToken(encryptedToken string) (string, error) {
	return e.Decrypt(encryptedToken)
}

// IsEncrypted reports whether s has the iv:payload shape this package produces.
func IsEncrypted(s string) bool {
	ivHex, sealedHex, ok := strings.Cut(s, ":")
	if !ok || ivHex == "" || sealedHex == "" {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	_, err := hex.DecodeString(sealedHex)
	return err == nil
}
