package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Cache-file obfuscation. This is deliberately not a security boundary: the
// key is derived from the device fingerprint, which is readable on the same
// machine. Tamper-proofing of the cached token is the HMAC signature alone;
// this layer only keeps the file opaque to casual editing.

const (
	obfuscationSalt       = "popwatch-cache-v1"
	obfuscationIterations = 10000
	obfuscationKeyLen     = 32
)

// DeriveObfuscationKey stretches the device fingerprint into an AES-256 key.
func DeriveObfuscationKey(fingerprint string) []byte {
	return pbkdf2.Key([]byte(fingerprint), []byte(obfuscationSalt), obfuscationIterations, obfuscationKeyLen, sha256.New)
}

// Obfuscate encrypts plaintext with AES-GCM and returns base64(nonce||ct).
func Obfuscate(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Deobfuscate reverses Obfuscate. Any decode or authentication failure is an
// error; callers treat that as an absent cache, not as corruption to repair.
func Deobfuscate(key []byte, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache payload: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("cache payload too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt cache payload: %w", err)
	}
	return plaintext, nil
}
