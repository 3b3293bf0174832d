// Package vault encrypts user secrets under PIN-derived keys. An envelope is
// base64(salt ‖ nonce ‖ AES-GCM ciphertext); the key never leaves memory and
// is re-derived from the service secret, the hashed user id and the PIN for
// every operation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// HashUserID converts a platform user id to the opaque key used everywhere
// in storage. Raw platform ids must not be persisted.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// Vault derives per-user encryption keys from a service-wide secret.
type Vault struct {
	secret []byte
}

func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Vault{secret: []byte(secret)}, nil
}

// deriveKey stretches (secret ‖ userHash ‖ ":" ‖ pin) with PBKDF2-SHA256.
// The salt is per-envelope, so re-encrypting the same plaintext yields a
// different ciphertext every time.
func (v *Vault) deriveKey(userHash, pin string, salt []byte) []byte {
	seed := sha256.Sum256(append(append(append([]byte{}, v.secret...), userHash...), ":"+pin...))
	return pbkdf2.Key(seed[:], salt, iterations, keySize, sha256.New)
}

// Encrypt seals plaintext for the given user and PIN.
func (v *Vault) Encrypt(userHash, pin, plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	gcm, err := v.aead(userHash, pin, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	envelope := make([]byte, 0, saltSize+len(nonce)+len(sealed))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope. Any failure — bad encoding, truncated data,
// wrong PIN, tampered ciphertext — returns ErrDecryptionFailed with no
// partial output.
func (v *Vault) Decrypt(userHash, pin, envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < saltSize {
		return "", ErrDecryptionFailed
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := v.aead(userHash, pin, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (v *Vault) aead(userHash, pin string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.deriveKey(userHash, pin, salt))
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
