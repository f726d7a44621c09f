// Package secrets implements the credential-store envelope shared with the
// other backend subsystems: AES-256-GCM with a 16-byte IV, ciphertext and
// auth tag stored separately as hex.
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
)

const (
	ivSize  = 16
	tagSize = 16
)

// ErrInvalidEnvelope reports a malformed or tampered envelope.
var ErrInvalidEnvelope = errors.New("secrets: invalid envelope")

// Envelope is the wire form of an encrypted secret. All fields are hex.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
}

// Cipher encrypts and decrypts credential envelopes with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AES-256 key from the configured ENCRYPTION_KEY
// value: a 64-char hex string is decoded directly, anything else is hashed
// with SHA-256 to 32 bytes.
func NewCipher(key string) (*Cipher, error) {
	raw := deriveKey(key)
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func deriveKey(key string) []byte {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw
		}
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// Encrypt seals a plaintext into an envelope with a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (*Envelope, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("secrets: generating iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	return &Envelope{
		Encrypted: hex.EncodeToString(sealed[:split]),
		IV:        hex.EncodeToString(iv),
		Tag:       hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens an envelope. Any decode or authentication failure is
// reported as ErrInvalidEnvelope.
func (c *Cipher) Decrypt(env *Envelope) (string, error) {
	ciphertext, err := hex.DecodeString(env.Encrypted)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return "", ErrInvalidEnvelope
	}
	tag, err := hex.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidEnvelope
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	return string(plaintext), nil
}
