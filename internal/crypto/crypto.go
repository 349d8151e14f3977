// Package crypto implements the authenticated encryption applied to every
// voice payload on the wire: AES-256-GCM with a fresh random 96-bit nonce
// prepended to the ciphertext and the 128-bit tag appended by GCM.
//
// The key is shared out-of-band and injected at session start; both ends of
// a conversation must hold the same 256-bit key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to each sealed payload.
	NonceSize = 12
	// TagSize is the GCM authentication tag length appended to the ciphertext.
	TagSize = 16
)

// ErrAuth is returned by Open when the payload fails authentication — a
// corrupted datagram, a truncated payload, or a peer using a different key.
var ErrAuth = errors.New("crypto: authentication failed")

// Cipher seals and opens voice payloads under a fixed session key.
// Safe for concurrent use by the receiver and transmitter goroutines.
type Cipher struct {
	aead cipher.AEAD
}

// New returns a Cipher for the given 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromBase64 returns a Cipher for a base64-encoded 256-bit key, the form
// keys take in configuration.
func NewFromBase64(key string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	return New(raw)
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag. A fresh
// nonce is drawn from crypto/rand per call; nonces are never reused.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open decrypts a payload produced by Seal. Any failure — short input, bad
// tag, wrong key — is reported as ErrAuth; the caller counts and discards.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ErrAuth
	}
	plain, err := c.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuth
	}
	return plain, nil
}
