// Package seal provides an AEAD block sealer for encrypted frame bodies.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrBadKeySize   = errors.New("seal: bad key size")
	ErrShortMessage = errors.New("seal: sealed block shorter than nonce")
	ErrOpenFailed   = errors.New("seal: authentication failed")
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Overhead is the number of bytes Seal adds to a block.
const Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Sealer encrypts each block with XChaCha20-Poly1305 under a random nonce
// carried in front of the ciphertext. Both ends of a session share the key.
type Sealer struct {
	aead cipher.AEAD
}

func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadKeySize, len(key), KeySize)
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: a}, nil
}

// FromHex builds a sealer from a hex encoded key.
func FromHex(raw string) (*Sealer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("seal: decode key: %w", err)
	}
	return New(key)
}

// RandomKey returns a fresh key.
func RandomKey() ([]byte, error) {
	k := make([]byte, KeySize)
	_, err := rand.Read(k)
	return k, err
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+chacha20poly1305.Overhead)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return s.aead.Seal(out, out, plain, nil), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrShortMessage
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	plain, err := s.aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
