package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	encPrefix    = "enc:"
	secretKeyEnv = EnvPrefix + "_SECRET_KEY"
)

// SecretKey decrypts "enc:" values found in the config file, so console and
// Twilio tokens need not sit in plaintext. AES-256-GCM.
type SecretKey struct {
	gcm cipher.AEAD
}

// DefaultKeyPath is where the generated key is kept.
func DefaultKeyPath() string {
	return filepath.Join(homeDir(), ".resilioctl", "secret.key")
}

// NewSecretKey derives the key from RESILIOCTL_SECRET_KEY when set. Otherwise
// it reads keyPath, generating and persisting a random key on first use.
func NewSecretKey(keyPath string) (*SecretKey, error) {
	if raw := os.Getenv(secretKeyEnv); raw != "" {
		h := sha256.Sum256([]byte(raw))
		return newSecretKey(h[:])
	}

	if data, err := os.ReadFile(keyPath); err == nil && len(data) >= 32 {
		return newSecretKey(data[:32])
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return newSecretKey(key)
}

func newSecretKey(key []byte) (*SecretKey, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretKey{gcm: gcm}, nil
}

// Encrypt returns "enc:" + base64(nonce || ciphertext).
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are returned unchanged.
func (s *SecretKey) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plain, err := s.gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the "enc:" prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// MaskSecret returns a masked version safe for logs: "****abcd"
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return os.TempDir()
}
