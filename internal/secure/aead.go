package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// domainSalt separates this package's key derivation from any other use of
// the same passphrase. It is not a secret — scrypt's security comes from
// its cost parameters, not from hiding the salt.
var domainSalt = []byte("rotatord/env-provider/v1")

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	aeadKeyBytes = 32
)

// Cipher performs AEAD (AES-256-GCM) sealing and opening for the env
// provider's at-rest ciphertext. A Cipher is derived either from an
// operator-supplied passphrase (via scrypt) or, if none is configured, from
// a fresh random key that only lives for the process lifetime — rotating
// the process loses access to previously sealed values in that case, which
// is expected for the no-passphrase/ephemeral mode.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipherFromPassphrase derives a 32-byte key from passphrase via scrypt
// with a fixed domain-separation salt and builds an AES-256-GCM AEAD
// around it.
func NewCipherFromPassphrase(passphrase string) (*Cipher, error) {
	key, err := scrypt.Key([]byte(passphrase), domainSalt, scryptN, scryptR, scryptP, aeadKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return newCipher(key)
}

// NewEphemeralCipher generates a fresh random 32-byte key, used when no
// passphrase is configured. The key is held only in process memory.
func NewEphemeralCipher() (*Cipher, error) {
	key := make([]byte, aeadKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return newCipher(key)
}

func newCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Ciphertext is the at-rest representation of a sealed value: the nonce
// ("iv"), the AEAD authentication tag, and the encrypted bytes, each
// hex-encoded so the whole thing can live in a plain map[string]string.
type Ciphertext struct {
	IV      string
	Tag     string
	Payload string
}

// Seal encrypts plaintext under a fresh random nonce. The nonce is never
// reused across calls for the same key: each call draws a new one from
// crypto/rand.
func (c *Cipher) Seal(plaintext string) (Ciphertext, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Ciphertext{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - c.gcm.Overhead()

	return Ciphertext{
		IV:      hex.EncodeToString(nonce),
		Tag:     hex.EncodeToString(sealed[tagStart:]),
		Payload: hex.EncodeToString(sealed[:tagStart]),
	}, nil
}

// Open decrypts a Ciphertext back to its plaintext, verifying the
// authentication tag. Returns an error if the ciphertext was tampered with
// or sealed under a different key.
func (c *Cipher) Open(ct Ciphertext) (string, error) {
	nonce, err := hex.DecodeString(ct.IV)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	payload, err := hex.DecodeString(ct.Payload)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	tag, err := hex.DecodeString(ct.Tag)
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}

	sealed := append(payload, tag...)
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Checksum returns the first 16 hex characters of SHA-256(value). It is
// advisory only — used to let callers notice a value changed without
// comparing plaintexts — and is never used as key material.
func Checksum(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
