package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/org/passvault/pkg/models"
)

// FieldCipher seals and opens sensitive values.
type FieldCipher interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
	SealBytes(plaintext []byte) ([]byte, error)
	OpenBytes(stored []byte) ([]byte, error)
}

// EncryptedBackend wraps a Backend so that secret passwords, details, OTP
// URIs and attachment payloads only ever reach the database as ciphertext.
type EncryptedBackend struct {
	encryptedStore
	backend Backend
}

// NewEncryptedBackend wraps backend with cipher.
func NewEncryptedBackend(backend Backend, cipher FieldCipher) *EncryptedBackend {
	return &EncryptedBackend{
		encryptedStore: encryptedStore{Store: backend, cipher: cipher},
		backend:        backend,
	}
}

func (b *EncryptedBackend) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return b.backend.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, &encryptedStore{Store: tx, cipher: b.cipher})
	})
}

func (b *EncryptedBackend) Close() {
	b.backend.Close()
}

type encryptedStore struct {
	Store
	cipher FieldCipher
}

// sealSecret returns a copy of s with its sensitive attributes encrypted.
func (e *encryptedStore) sealSecret(s *models.Secret) (*models.Secret, error) {
	sealed := *s
	var err error
	if sealed.Password, err = e.cipher.Seal(s.Password); err != nil {
		return nil, fmt.Errorf("sealing secret password: %w", err)
	}
	if sealed.Details, err = e.cipher.Seal(s.Details); err != nil {
		return nil, fmt.Errorf("sealing secret details: %w", err)
	}
	if sealed.OTPURI, err = e.cipher.Seal(s.OTPURI); err != nil {
		return nil, fmt.Errorf("sealing secret otp: %w", err)
	}
	return &sealed, nil
}

func (e *encryptedStore) CreateSecret(ctx context.Context, s *models.Secret) error {
	sealed, err := e.sealSecret(s)
	if err != nil {
		return err
	}
	return e.Store.CreateSecret(ctx, sealed)
}

func (e *encryptedStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	s, err := e.Store.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Password, err = e.cipher.Open(s.Password); err != nil {
		return nil, fmt.Errorf("opening secret password: %w", err)
	}
	if s.Details, err = e.cipher.Open(s.Details); err != nil {
		return nil, fmt.Errorf("opening secret details: %w", err)
	}
	if s.OTPURI, err = e.cipher.Open(s.OTPURI); err != nil {
		return nil, fmt.Errorf("opening secret otp: %w", err)
	}
	s.OTPEnabled = s.OTPURI != ""
	return s, nil
}

func (e *encryptedStore) UpdateSecret(ctx context.Context, s *models.Secret) error {
	sealed, err := e.sealSecret(s)
	if err != nil {
		return err
	}
	return e.Store.UpdateSecret(ctx, sealed)
}

func (e *encryptedStore) SetSecretOTP(ctx context.Context, id, otpURI string, at time.Time) error {
	sealed, err := e.cipher.Seal(otpURI)
	if err != nil {
		return fmt.Errorf("sealing secret otp: %w", err)
	}
	return e.Store.SetSecretOTP(ctx, id, sealed, at)
}

func (e *encryptedStore) SoftDeleteSecret(ctx context.Context, s *models.Secret) error {
	sealed, err := e.sealSecret(s)
	if err != nil {
		return err
	}
	return e.Store.SoftDeleteSecret(ctx, sealed)
}

func (e *encryptedStore) CreateFile(ctx context.Context, f *models.File) error {
	sealed := *f
	data, err := e.cipher.SealBytes(f.Data)
	if err != nil {
		return fmt.Errorf("sealing attachment: %w", err)
	}
	sealed.Data = data
	sealed.Size = int64(len(f.Data))
	return e.Store.CreateFile(ctx, &sealed)
}

func (e *encryptedStore) GetFile(ctx context.Context, secretID, fileID string) (*models.File, error) {
	f, err := e.Store.GetFile(ctx, secretID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Data, err = e.cipher.OpenBytes(f.Data); err != nil {
		return nil, fmt.Errorf("opening attachment: %w", err)
	}
	return f, nil
}
