package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// encPrefix marks an encrypted credential in config files.
const encPrefix = "enc:"

// KeyManager handles encryption and decryption of provider credentials
type KeyManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewKeyManager creates a new key manager with the given encryption key
// The key should be 32 bytes for AES-256-GCM
func NewKeyManager(key []byte) (*KeyManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &KeyManager{
		encryptionKey: key,
	}, nil
}

// NewKeyManagerFromPassword creates a key manager using a password
// The password is hashed with SHA-256 to derive the encryption key
func NewKeyManagerFromPassword(password string) (*KeyManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewKeyManager(hash[:])
}

// Encrypt encrypts plaintext using AES-256-GCM
// Returns encrypted data with nonce prepended
func (km *KeyManager) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(km.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data encrypted with Encrypt
// Expects nonce to be prepended to ciphertext
func (km *KeyManager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	block, err := aes.NewCipher(km.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// Seal encrypts an API key into the "enc:<base64>" envelope used in
// config files.
func (km *KeyManager) Seal(apiKey string) (string, error) {
	ciphertext, err := km.Encrypt([]byte(apiKey))
	if err != nil {
		return "", err
	}
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Resolve returns the plaintext API key for a config value. Values
// without the envelope prefix are passed through unchanged.
func (km *KeyManager) Resolve(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("malformed encrypted credential: %w", err)
	}
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether a config value carries the encrypted
// envelope.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}
