package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/crypto"
	"github.com/org/passvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *core.FieldCipher {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := core.NewFieldCipher(crypto.EncodeKey(key))
	require.NoError(t, err)
	return c
}

func TestEncryptedBackendSealsAtRest(t *testing.T) {
	assert := assert.New(t)
	raw := newTestBackend(t)
	enc := NewEncryptedBackend(raw, newTestCipher(t))
	ctx := context.Background()

	alice := testUser(t, enc, "alice@example.com")
	now := time.Now().UTC()
	sec := &models.Secret{
		ID:        uuid.NewString(),
		Name:      "aws-prod",
		Password:  "hunter2",
		Details:   "root account",
		CreatedBy: &alice.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assert.Nil(enc.CreateSecret(ctx, sec))
	// Caller's copy is untouched
	assert.Equal("hunter2", sec.Password)

	stored, err := raw.GetSecret(ctx, sec.ID)
	assert.Nil(err)
	assert.NotEqual("hunter2", stored.Password)
	assert.True(strings.HasPrefix(stored.Password, "v1:"))
	assert.NotContains(stored.Details, "root")
	assert.Empty(stored.OTPURI)

	got, err := enc.GetSecret(ctx, sec.ID)
	assert.Nil(err)
	assert.Equal("hunter2", got.Password)
	assert.Equal("root account", got.Details)
	assert.False(got.OTPEnabled)

	assert.Nil(enc.SetSecretOTP(ctx, sec.ID, "otpauth://totp/x?secret=JBSWY3DPEHPK3PXP", now))
	stored, err = raw.GetSecret(ctx, sec.ID)
	assert.Nil(err)
	assert.NotContains(stored.OTPURI, "otpauth")

	got, err = enc.GetSecret(ctx, sec.ID)
	assert.Nil(err)
	assert.True(got.OTPEnabled)
	assert.Equal("otpauth://totp/x?secret=JBSWY3DPEHPK3PXP", got.OTPURI)
}

func TestEncryptedBackendWrongKey(t *testing.T) {
	assert := assert.New(t)
	raw := newTestBackend(t)
	enc := NewEncryptedBackend(raw, newTestCipher(t))
	other := NewEncryptedBackend(raw, newTestCipher(t))
	ctx := context.Background()

	alice := testUser(t, enc, "alice@example.com")
	sec := testSecret(t, enc, "aws-prod", alice)

	_, err := other.GetSecret(ctx, sec.ID)
	assert.ErrorIs(err, core.ErrDecryption)
	assert.NotContains(err.Error(), "hunter2")
}

func TestEncryptedBackendFiles(t *testing.T) {
	assert := assert.New(t)
	raw := newTestBackend(t)
	enc := NewEncryptedBackend(raw, newTestCipher(t))
	ctx := context.Background()

	alice := testUser(t, enc, "alice@example.com")
	sec := testSecret(t, enc, "aws-prod", alice)

	payload := []byte("-----BEGIN KEY-----")
	err := enc.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.CreateFile(ctx, &models.File{
			ID:        uuid.NewString(),
			SecretID:  sec.ID,
			Name:      "id_rsa",
			Data:      payload,
			CreatedBy: alice.ID,
			CreatedAt: time.Now(),
		})
	})
	assert.Nil(err)

	files, err := enc.ListFiles(ctx, sec.ID)
	assert.Nil(err)
	assert.Len(files, 1)
	assert.EqualValues(len(payload), files[0].Size)
	assert.Nil(files[0].Data)

	stored, err := raw.GetFile(ctx, sec.ID, files[0].ID)
	assert.Nil(err)
	assert.NotContains(string(stored.Data), "BEGIN")

	got, err := enc.GetFile(ctx, sec.ID, files[0].ID)
	assert.Nil(err)
	assert.Equal(payload, got.Data)
}

func TestEncryptedBackendSoftDeleteScrubs(t *testing.T) {
	assert := assert.New(t)
	raw := newTestBackend(t)
	enc := NewEncryptedBackend(raw, newTestCipher(t))
	ctx := context.Background()

	alice := testUser(t, enc, "alice@example.com")
	sec := testSecret(t, enc, "aws-prod", alice)

	sec.Scrub()
	assert.Nil(enc.SoftDeleteSecret(ctx, sec))

	stored, err := raw.GetSecret(ctx, sec.ID)
	assert.Nil(err)
	assert.True(stored.Deleted)
	assert.Empty(stored.Password)
	assert.Empty(stored.Details)
	assert.Empty(stored.OTPURI)
}
