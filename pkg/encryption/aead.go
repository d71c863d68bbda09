// Package encryption provides the default settings.Encrypter using
// XChaCha20-Poly1305.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	settings "github.com/goliatone/go-settings"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

var encoding = base64.RawURLEncoding

// DecryptError reports ciphertext that is malformed or fails authentication.
// It matches settings.ErrEncryption.
type DecryptError struct {
	Reason string
	Err    error
}

// Error implements error.
func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encryption: %s: %v", e.Reason, e.Err)
	}
	return "encryption: " + e.Reason
}

// Unwrap returns the underlying decoding or authentication error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is matches settings.ErrEncryption.
func (e *DecryptError) Is(target error) bool {
	return target == settings.ErrEncryption
}

// AEAD encrypts with a random 24 byte nonce per message and emits
// base64url(nonce || ciphertext).
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD builds an encrypter from a KeySize byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

// FromBase64 builds an AEAD from a standard or URL base64 encoded key, with or
// without padding.
func FromBase64(encoded string) (*AEAD, error) {
	key, err := decodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption: decode key: %w", err)
	}
	return NewAEAD(key)
}

// GenerateKey returns a new random key encoded for FromBase64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("encryption: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (a *AEAD) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt.
func (a *AEAD) Decrypt(ciphertext string) (string, error) {
	sealed, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptError{Reason: "malformed payload", Err: err}
	}
	if len(sealed) < a.aead.NonceSize()+a.aead.Overhead() {
		return "", &DecryptError{Reason: "payload too short"}
	}
	nonce, body := sealed[:a.aead.NonceSize()], sealed[a.aead.NonceSize():]
	plain, err := a.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", &DecryptError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

func decodeKey(encoded string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(encoded)
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
