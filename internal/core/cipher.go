package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/org/passvault/internal/crypto"
)

const (
	fieldKeyContext = "passvault-field-v1"
	fileKeyContext  = "passvault-file-v1"

	envelopePrefix = "v1:"
	blobVersion    = byte(1)
)

// ErrDecryption is returned when stored ciphertext cannot be opened with the
// configured key. It never carries the stored or decrypted value.
var ErrDecryption = errors.New("decryption failure")

// ErrInvalidKey is returned when the configured encryption key is absent or malformed.
var ErrInvalidKey = errors.New("invalid encryption key")

// FieldCipher encrypts secret attributes and attachments at rest.
// It holds keys derived once at startup and is safe for concurrent use.
type FieldCipher struct {
	fieldKey []byte
	fileKey  []byte
}

// NewFieldCipher builds a cipher from the base64-encoded 32-byte master key.
func NewFieldCipher(encodedKey string) (*FieldCipher, error) {
	if strings.TrimSpace(encodedKey) == "" {
		return nil, fmt.Errorf("%w: key is not configured", ErrInvalidKey)
	}
	master, err := crypto.DecodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer crypto.Zero(master)

	fieldKey, err := crypto.DeriveKey(master, fieldKeyContext)
	if err != nil {
		return nil, err
	}
	fileKey, err := crypto.DeriveKey(master, fileKeyContext)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{fieldKey: fieldKey, fileKey: fileKey}, nil
}

// Seal encrypts a text attribute. The empty string is stored as-is.
func (c *FieldCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, nonce, err := crypto.EncryptAESGCM([]byte(plaintext), c.fieldKey)
	if err != nil {
		return "", errors.New("encrypting attribute")
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Open decrypts a value produced by Seal.
func (c *FieldCipher) Open(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(stored, envelopePrefix)
	if !ok {
		return "", ErrDecryption
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryption
	}
	plaintext, err := openRaw(raw, c.fieldKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealBytes encrypts an attachment payload.
func (c *FieldCipher) SealBytes(plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := crypto.EncryptAESGCM(plaintext, c.fileKey)
	if err != nil {
		return nil, errors.New("encrypting attachment")
	}
	out := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	out = append(out, blobVersion)
	out = append(out, nonce...)
	return append(out, ciphertext...), nil
}

// OpenBytes decrypts a payload produced by SealBytes.
func (c *FieldCipher) OpenBytes(stored []byte) ([]byte, error) {
	if len(stored) == 0 || stored[0] != blobVersion {
		return nil, ErrDecryption
	}
	return openRaw(stored[1:], c.fileKey)
}

func openRaw(raw, key []byte) ([]byte, error) {
	const nonceSize = 12
	if len(raw) < nonceSize {
		return nil, ErrDecryption
	}
	plaintext, err := crypto.DecryptAESGCM(raw[nonceSize:], raw[:nonceSize], key)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
