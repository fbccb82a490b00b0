// Package crypto seals backend credentials for at-rest storage.
// Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrEmptyValue is returned when asked to seal nothing.
	ErrEmptyValue = errors.New("empty value")
)

// Encrypt encrypts plaintext using AES-256-GCM.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	derivedKey := sha256.Sum256(key)

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	return plaintext, nil
}

// DeriveKey derives a consistent key from a machine-specific identifier.
// This is a simple implementation - in production, use platform-specific key stores.
func DeriveKey(machineID string) []byte {
	hash := sha256.Sum256([]byte("tillsync:" + machineID))
	return hash[:]
}

// MachineKey returns a key derived from a machine identifier.
// Falls back to a default key if no machine ID is provided.
func MachineKey(machineID string) []byte {
	if machineID == "" {
		machineID = "tillsync-default-key"
	}
	return DeriveKey(machineID)
}

// SealCredential encrypts an API credential for storage.
func SealCredential(value, machineID string) (string, error) {
	if value == "" {
		return "", ErrEmptyValue
	}
	return Encrypt([]byte(value), MachineKey(machineID))
}

// OpenCredential decrypts a stored API credential.
// An empty ciphertext means no credential was set.
func OpenCredential(ciphertext, machineID string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plaintext, err := Decrypt(ciphertext, MachineKey(machineID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
