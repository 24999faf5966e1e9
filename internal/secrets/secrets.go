// Package secrets decrypts fiscal credentials stored alongside shop settings.
// Values are AES-256-GCM ciphertexts with hex-encoded iv, content and auth tag.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"shopledger/backend/internal/domain"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

type Decryptor struct {
	key []byte
}

// NewDecryptor takes the 32-byte key as a hex string.
func NewDecryptor(hexKey string) (*Decryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}
	return &Decryptor{key: key}, nil
}

func (d *Decryptor) Encrypt(plaintext string) (*domain.EncryptedSecret, error) {
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	return &domain.EncryptedSecret{
		IV:      hex.EncodeToString(iv),
		Content: hex.EncodeToString(sealed[:tagStart]),
		AuthTag: hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

func (d *Decryptor) Decrypt(secret *domain.EncryptedSecret) (string, error) {
	if secret.Empty() {
		return "", ErrInvalidCiphertext
	}

	iv, err := hex.DecodeString(secret.IV)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	content, err := hex.DecodeString(secret.Content)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	authTag, err := hex.DecodeString(secret.AuthTag)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(authTag) != gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, iv, append(content, authTag...), nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
