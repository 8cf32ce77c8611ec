package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer provides authenticated encryption for cookie payloads using
// NaCl secretbox. The key is derived from the configured secret so callers
// can pass arbitrary-length secrets.
type Sealer struct {
	key [32]byte
}

// NewSealer creates a sealer from a secret of any length
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("sealing secret must not be empty")
	}
	return &Sealer{key: sha256.Sum256(secret)}, nil
}

// Seal encrypts plaintext and returns a base64 URL-encoded token
// containing the nonce and ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal
func (s *Sealer) Open(token string) ([]byte, error) {
	sealed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed token: %w", err)
	}
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed token too short")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("failed to open sealed token")
	}
	return plaintext, nil
}
