package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/burrowhq/burrow/pkg/log"
)

// Vault handles encryption and decryption of environment secret values with
// the process-wide master key. Ciphertexts are base64(nonce || ct+tag).
type Vault struct {
	masterKey []byte // 32 bytes for AES-256
}

// NewVault creates a vault with the given master key.
// The key must be 32 bytes for AES-256-GCM.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &Vault{masterKey: key}, nil
}

// NewVaultFromConfig loads the base64-encoded master key. In production an
// absent or malformed key is fatal; otherwise a throwaway key is generated
// so local development works, at the cost of losing secrets on restart.
func NewVaultFromConfig(encodedKey string, production bool) (*Vault, error) {
	if encodedKey == "" {
		if production {
			return nil, fmt.Errorf("secrets master key is required in production")
		}

		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}

		logger := log.WithComponent("security")
		logger.Warn().
			Msg("SECRETS_MASTER_KEY not set; using an ephemeral key - all stored secrets become unreadable after restart")

		return NewVault(key)
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}

	return NewVault(key)
}

// Encrypt encrypts a secret value using AES-256-GCM with a fresh nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("cannot encrypt empty value")
	}

	block, err := aes.NewCipher(v.masterKey)
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

	// Encrypt and prepend nonce
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a value produced by Encrypt. Fails closed on tampering or
// a wrong key.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("cannot decrypt empty value")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptMap encrypts every value of a secrets map.
func (v *Vault) EncryptMap(plain map[string]string) (map[string]string, error) {
	encrypted := make(map[string]string, len(plain))
	for key, value := range plain {
		ct, err := v.Encrypt(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt secret %s: %w", key, err)
		}
		encrypted[key] = ct
	}
	return encrypted, nil
}

// DecryptMap decrypts every value of a secrets map.
func (v *Vault) DecryptMap(encrypted map[string]string) (map[string]string, error) {
	plain := make(map[string]string, len(encrypted))
	for key, value := range encrypted {
		pt, err := v.Decrypt(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret %s: %w", key, err)
		}
		plain[key] = pt
	}
	return plain, nil
}
