// Package crypto provides the authenticated encryption used by the
// credential vault. The key is derived from the machine hostname, so
// ciphertexts are only recoverable on the host that produced them. A
// vault file copied off-box is useless without the origin hostname.
package crypto

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
)

// ErrInvalidToken is returned by Decrypt when a token is malformed,
// was produced under a different key, or failed authentication.
var ErrInvalidToken = errors.New("crypto: invalid token")

// Encryptor performs AES-256-GCM authenticated encryption under a fixed
// 32-byte key. Safe for concurrent use; the key is never mutated after
// construction.
type Encryptor struct {
	key []byte
}

// NewHostEncryptor derives the encryption key from the current machine
// hostname (SHA-256) and returns a ready Encryptor. The key is derived
// fresh on every call so a hostname change between runs yields a new key
// rather than silently reusing a stale one.
func NewHostEncryptor() (*Encryptor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to read hostname: %w", err)
	}
	return NewEncryptor(DeriveKey(hostname)), nil
}

// NewEncryptor returns an Encryptor over an explicit 32-byte key.
// Used directly in tests; production code goes through NewHostEncryptor.
func NewEncryptor(key []byte) *Encryptor {
	k := make([]byte, len(key))
	copy(k, key)
	return &Encryptor{key: k}
}

// DeriveKey turns a host identity string into a 32-byte AES-256 key.
func DeriveKey(identity string) []byte {
	sum := sha256.Sum256([]byte(identity))
	return sum[:]
}

// KeyFingerprint returns a short hex digest over the key. Exposed for
// vault info output only; it identifies the key without revealing it.
func (e *Encryptor) KeyFingerprint() string {
	sum := sha256.Sum256(e.key)
	return fmt.Sprintf("%x", sum[:8])
}

// Encrypt seals plaintext and returns an opaque token of the form
// base64(nonce + ciphertext + tag). A fresh random nonce is generated per
// call, so encrypting the same plaintext twice yields distinct tokens.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed input, key
// mismatch, or authentication failure yields ErrInvalidToken.
func (e *Encryptor) Decrypt(token string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrInvalidToken)
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: too short to contain nonce", ErrInvalidToken)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrInvalidToken)
	}
	return string(plaintext), nil
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}
