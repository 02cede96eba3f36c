// Package crypto provides AES-256-GCM encryption at rest. Its primary
// consumer is the state manager, which seals Sensitive-class entry
// values before they reach the storage backend; the string helpers
// cover credential fields (API keys, header values) carried in provider
// configuration.
//
// Sealed output is "enc:" followed by base64-encoded nonce+ciphertext,
// so an encrypted value is distinguishable from plaintext on read and a
// value is never sealed twice.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const encPrefix = "enc:"

// newGCM builds the AEAD for key, which must be exactly 32 bytes
// (DeriveKey stretches an arbitrary passphrase to that length).
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// SealValue encrypts a state entry's raw value, returning
// "enc:<base64(nonce + ciphertext)>" as ASCII bytes safe to embed in a
// JSON envelope. An empty value is returned unchanged.
func SealValue(value, key []byte) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, giving nonce+ciphertext in one slice.
	sealed := gcm.Seal(nonce, nonce, value, nil)

	out := make([]byte, len(encPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, encPrefix)
	base64.StdEncoding.Encode(out[len(encPrefix):], sealed)
	return out, nil
}

// OpenValue reverses SealValue. A value without the "enc:" prefix is
// returned as-is, so entries written before encryption was enabled
// still read back.
func OpenValue(value, key []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, []byte(encPrefix)) {
		return value, nil
	}

	data, err := base64.StdEncoding.AppendDecode(nil, value[len(encPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}

// Encrypt is the string form of SealValue, used for configuration
// credential fields.
func Encrypt(plaintext string, key []byte) (string, error) {
	out, err := SealValue([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decrypt is the string form of OpenValue; values without the "enc:"
// prefix pass through unchanged.
func Decrypt(ciphertext string, key []byte) (string, error) {
	out, err := OpenValue([]byte(ciphertext), key)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// IsEncrypted reports whether the value carries the "enc:" prefix,
// meaning it was produced by SealValue/Encrypt.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// DeriveKey derives a 32-byte AES-256 key from an arbitrary-length
// passphrase by hashing it with SHA-256, so the encryption_key
// configuration value can be any non-empty string.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key must not be empty")
	}

	hash := sha256.Sum256([]byte(passphrase))

	return hash[:], nil
}
