package snapshot

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32
	pbkdf2Iterations = 100000
)

// KeySource names where the payload encryption key comes from
type KeySource string

const (
	KeySourceEnv        KeySource = "env"
	KeySourceFile       KeySource = "file"
	KeySourcePassphrase KeySource = "passphrase"
)

// KeyConfig describes how to obtain the AES-256 key.
type KeyConfig struct {
	Source     KeySource
	EnvVar     string // hex-encoded key
	FilePath   string // 32 raw bytes or 64 hex characters
	Passphrase string
	Salt       string
}

// Encryptor seals payloads with AES-256-GCM. The nonce is prepended to the
// ciphertext.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromConfig resolves the key described by cfg.
func NewEncryptorFromConfig(cfg KeyConfig) (*Encryptor, error) {
	key, err := ResolveKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// Encrypt returns nonce || ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Any modification of the input fails authentication.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte key from a passphrase with PBKDF2-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// GenerateKey returns a random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// ResolveKey loads the key described by cfg.
func ResolveKey(cfg KeyConfig) ([]byte, error) {
	switch cfg.Source {
	case KeySourceEnv:
		raw := os.Getenv(cfg.EnvVar)
		if raw == "" {
			return nil, fmt.Errorf("encryption key not found in environment variable %s", cfg.EnvVar)
		}
		key, err := hex.DecodeString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from environment variable: %w", err)
		}
		return key, validateKey(key)

	case KeySourceFile:
		data, err := os.ReadFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from file %s: %w", cfg.FilePath, err)
		}
		if len(data) == keySize {
			return data, validateKey(data)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("encryption key file must contain 32 raw bytes or 64 hex characters")
		}
		return key, validateKey(key)

	case KeySourcePassphrase:
		if cfg.Passphrase == "" || cfg.Salt == "" {
			return nil, fmt.Errorf("passphrase key source requires both passphrase and salt")
		}
		return DeriveKey(cfg.Passphrase, []byte(cfg.Salt)), nil

	default:
		return nil, fmt.Errorf("unsupported key source: %q", cfg.Source)
	}
}

func validateKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
	}

	allZeros, allOnes := true, true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros || allOnes {
		return fmt.Errorf("encryption key is degenerate")
	}
	return nil
}
