// Package encryption provides the credential vault used to keep SSH secrets encrypted at rest.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/oar-cd/moor/domain"
	"golang.org/x/crypto/scrypt"
)

const (
	ivLength  = 12
	tagLength = 16
	keyLength = 32

	// minCiphertextLength is the smallest decoded payload that can hold an IV and a tag
	minCiphertextLength = ivLength + tagLength

	scryptN = 65536
	scryptR = 8
	scryptP = 1
)

var kdfSalt = []byte("moor-ssh-encryption-salt-v1")

// ErrNoMasterKey is returned when a production vault is requested without a master key
var ErrNoMasterKey = errors.New("encryption master key is not configured")

// Vault encrypts and decrypts secrets with AES-256-GCM under a key derived once from the master key
type Vault struct {
	aead        cipher.AEAD
	passthrough bool
}

// NewVault derives the data key from masterKey. Without a master key it fails in production
// and otherwise returns a vault that stores secrets as plaintext.
func NewVault(masterKey string, production bool) (*Vault, error) {
	if masterKey == "" {
		if production {
			return nil, ErrNoMasterKey
		}
		slog.Warn("Encryption master key is not set, SSH credentials will be stored in PLAINTEXT",
			"layer", "encryption",
			"operation", "init_vault")
		return &Vault{passthrough: true}, nil
	}

	key, err := scrypt.Key([]byte(masterKey), kdfSalt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Passthrough reports whether the vault stores secrets unencrypted
func (v *Vault) Passthrough() bool {
	return v.passthrough
}

// Encrypt returns base64(iv ‖ tag ‖ ciphertext). Nil and empty input are returned unchanged.
func (v *Vault) Encrypt(plaintext *string) (*string, error) {
	if plaintext == nil || *plaintext == "" || v.passthrough {
		return plaintext, nil
	}

	out, err := v.EncryptString(*plaintext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EncryptString seals plaintext with AES-256-GCM under a fresh IV and returns
// base64(iv || tag || ciphertext). Empty input and passthrough vaults return plaintext unchanged.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	if plaintext == "" || v.passthrough {
		return plaintext, nil
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends the tag after the ciphertext; the stored layout puts it first
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	payload := make([]byte, 0, ivLength+tagLength+len(ct))
	payload = append(payload, iv...)
	payload = append(payload, tag...)
	payload = append(payload, ct...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. Values that cannot be ciphertext are treated as legacy plaintext
// and returned as-is; a ciphertext that fails authentication is a security error.
func (v *Vault) Decrypt(ciphertext *string) (*string, error) {
	if ciphertext == nil || *ciphertext == "" || v.passthrough {
		return ciphertext, nil
	}

	out, err := v.DecryptString(*ciphertext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptString opens a value produced by EncryptString. Input that is not valid base64 or
// is too short to hold an IV and tag is returned as legacy plaintext.
func (v *Vault) DecryptString(ciphertext string) (string, error) {
	if ciphertext == "" || v.passthrough {
		return ciphertext, nil
	}

	payload, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(payload) < minCiphertextLength {
		slog.Debug("Value is not encrypted, returning as-is",
			"layer", "encryption",
			"operation", "decrypt")
		return ciphertext, nil
	}

	iv := payload[:ivLength]
	tag := payload[ivLength:minCiphertextLength]
	ct := payload[minCiphertextLength:]

	sealed := make([]byte, 0, len(ct)+tagLength)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", domain.Security("decrypt", "decryption failed", err)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether s looks like vault ciphertext
func IsEncrypted(s string) bool {
	if s == "" {
		return false
	}
	payload, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(payload) >= minCiphertextLength
}

// RotateSecret re-encrypts a value from the old vault under the new one
func RotateSecret(ciphertext string, oldVault, newVault *Vault) (string, error) {
	plaintext, err := oldVault.DecryptString(ciphertext)
	if err != nil {
		return "", err
	}
	return newVault.EncryptString(plaintext)
}
