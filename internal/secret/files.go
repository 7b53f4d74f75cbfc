package secret

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// UploadFile attaches a blob to a secret. Attachments share the secret's
// permissions.
func (s *Service) UploadFile(ctx context.Context, ident *models.Identity, secretID, name string, data []byte) (*models.File, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}

	var created *models.File
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, secretID, models.LevelChange); err != nil {
			return err
		}
		name = strings.TrimSpace(filepath.Base(name))
		if name == "" || name == "." || name == string(filepath.Separator) {
			return guard.Invalid("name", "is required")
		}
		if len(name) > 255 {
			return guard.Invalid("name", "must be at most 255 characters")
		}
		if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
			return guard.Invalid("file", "exceeds the %d byte limit", s.cfg.MaxFileSize)
		}
		f := &models.File{
			ID:        uuid.NewString(),
			SecretID:  secretID,
			Name:      name,
			Data:      data,
			Size:      int64(len(data)),
			CreatedBy: user.ID,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.CreateFile(ctx, f); err != nil {
			return fmt.Errorf("storing file: %w", err)
		}
		if err := s.record(ctx, tx, user, models.ActionFileUploaded, secretID, name); err != nil {
			return err
		}
		created = &models.File{
			ID:        f.ID,
			SecretID:  f.SecretID,
			Name:      f.Name,
			Size:      f.Size,
			CreatedBy: f.CreatedBy,
			CreatedAt: f.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListFiles lists a secret's attachments without their payloads.
func (s *Service) ListFiles(ctx context.Context, ident *models.Identity, secretID string) ([]*models.File, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}
	if _, err := s.guarded(ctx, s.backend, user, secretID, models.LevelView); err != nil {
		return nil, err
	}
	return s.backend.ListFiles(ctx, secretID)
}

// DownloadFile returns an attachment with its decrypted payload. Every
// download is audited.
func (s *Service) DownloadFile(ctx context.Context, ident *models.Identity, secretID, fileID string) (*models.File, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}

	var file *models.File
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, secretID, models.LevelView); err != nil {
			return err
		}
		f, err := tx.GetFile(ctx, secretID, fileID)
		if err != nil {
			return liveErr(err)
		}
		if err := s.record(ctx, tx, user, models.ActionFileDownloaded, secretID, f.Name); err != nil {
			return err
		}
		file = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// DeleteFile removes an attachment.
func (s *Service) DeleteFile(ctx context.Context, ident *models.Identity, secretID, fileID string) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, secretID, models.LevelChange); err != nil {
			return err
		}
		f, err := tx.GetFileInfo(ctx, secretID, fileID)
		if err != nil {
			return liveErr(err)
		}
		if err := tx.DeleteFile(ctx, secretID, fileID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return guard.ErrNotFound
			}
			return fmt.Errorf("deleting file: %w", err)
		}
		return s.record(ctx, tx, user, models.ActionFileDeleted, secretID, f.Name)
	})
}
