// Package secret seals sensitive settings at rest with NaCl secretbox.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrOpen is returned when a sealed value cannot be decrypted.
var ErrOpen = errors.New("secret: cannot open sealed value")

// Box seals and opens values with a fixed key.
type Box struct {
	key [keySize]byte
}

// New derives a box key from s. A 64 character hex string is used as the
// raw key; anything else is hashed with SHA-256.
func New(s string) (*Box, error) {
	if s == "" {
		return nil, errors.New("secret: empty key")
	}
	b := &Box{}
	if raw, err := hex.DecodeString(s); err == nil && len(raw) == keySize {
		copy(b.key[:], raw)
		return b, nil
	}
	b.key = sha256.Sum256([]byte(s))
	return b, nil
}

// Seal encrypts plain and returns base64 of nonce followed by ciphertext.
func (b *Box) Seal(plain []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plain, &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
