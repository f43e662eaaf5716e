// Package aead is the opaque encryption boundary the forwarding plane
// sits on top of. The mesh core treats payloads as plain []byte; nothing
// in wire or routing ever inspects or depends on whether a payload is
// ciphertext. Cipher is the only surface the forwarding plane calls
// through.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens Data/Upstream and Data/Downstream payloads.
// Implementations must be safe for concurrent use.
type Cipher interface {
	// Seal encrypts plaintext, returning nonce||ciphertext||tag.
	Seal(plaintext []byte) ([]byte, error)
	// Open decrypts a Seal'd buffer back to plaintext.
	Open(sealed []byte) ([]byte, error)
}

// chacha20 implements Cipher over a single fixed 32-byte key.
type chacha20 struct {
	aead chacha20poly1305.AEAD
}

// NewChaCha20Poly1305 constructs a Cipher from a 32-byte key, as produced
// by DeriveSessionKey.
func NewChaCha20Poly1305(key [32]byte) (Cipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: construct chacha20poly1305: %w", err)
	}
	return &chacha20{aead: aead}, nil
}

func (c *chacha20) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

func (c *chacha20) Open(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("aead: sealed buffer too short: %d bytes", len(sealed))
	}
	nonce, ciphertext := sealed[:ns], sealed[ns:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return plaintext, nil
}
