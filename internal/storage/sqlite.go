package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/org/passvault/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GetSqliteDialector returns the dialector for dbFile. Transactions start
// with BEGIN IMMEDIATE so writers are serialized for the whole transaction.
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dbFile))
}

// DefineTables prepares a database with the passvault tables
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		userEntry{},
		groupEntry{},
		groupMemberEntry{},
		secretEntry{},
		grantEntry{},
		fileEntry{},
		auditRecordEntry{},
		tokenEntry{},
	)
}

// gormStore implements Store over a GORM handle or transaction.
type gormStore struct {
	db *gorm.DB
}

// SQLiteBackend is a Backend backed by an SQLite file through GORM.
type SQLiteBackend struct {
	gormStore
}

// NewSQLiteBackend opens dbFile and creates any missing tables.
func NewSQLiteBackend(ctx context.Context, dbFile string, dbLogLevel logger.LogLevel) (*SQLiteBackend, error) {
	db, err := gorm.Open(GetSqliteDialector(dbFile), &gorm.Config{
		Logger:                 logger.Default.LogMode(dbLogLevel),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect with DB [%w]", err)
	}
	if err := DefineTables(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to define tables [%w]", err)
	}
	return &SQLiteBackend{gormStore: gormStore{db: db}}, nil
}

func (b *SQLiteBackend) Close() {
	if sqlDB, err := b.db.DB(); err == nil {
		sqlDB.Close() //nolint:errcheck
	}
}

// RunInTx runs fn in one transaction.
func (b *SQLiteBackend) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormStore{db: tx})
	})
}

func (g *gormStore) conn(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx)
}

// translateGormError maps GORM errors onto the package sentinels.
func translateGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w [%v]", ErrAlreadyExists, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), isForeignKeyError(err):
		return fmt.Errorf("%w [%v]", ErrProtected, err)
	}
	return err
}

// isForeignKeyError reports whether err is a foreign key failure raised by
// the driver. RESTRICT violations surface as SQLITE_CONSTRAINT_TRIGGER, which
// gorm's own translation does not cover.
func isForeignKeyError(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintForeignKey ||
		strings.Contains(sqlErr.Error(), "FOREIGN KEY constraint failed")
}

func affectedOne(tmp *gorm.DB) error {
	if tmp.Error != nil {
		return translateGormError(tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ======================================================================================
// Users

func (g *gormStore) CreateUser(ctx context.Context, u *models.User) error {
	entry := newUserEntry(u)
	return translateGormError(g.conn(ctx).Create(&entry).Error)
}

func (g *gormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var entry userEntry
	if err := g.conn(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var entry userEntry
	if err := g.conn(ctx).Where("lower(email) = lower(?)", email).First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	var entries []userEntry
	if err := g.conn(ctx).Order("email").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list users [%w]", err)
	}
	users := make([]*models.User, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.toModel())
	}
	return users, nil
}

func (g *gormStore) UpdateUser(ctx context.Context, u *models.User) error {
	return affectedOne(g.conn(ctx).Model(&userEntry{}).Where("id = ?", u.ID).Updates(map[string]any{
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"active":     u.Active,
		"superuser":  u.Superuser,
	}))
}

func (g *gormStore) TouchUser(ctx context.Context, id string, at time.Time) error {
	return g.conn(ctx).Model(&userEntry{}).Where("id = ?", id).Update("last_accessed", at.UTC()).Error
}

func (g *gormStore) DeleteUser(ctx context.Context, id string) error {
	return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("principal_kind = ? AND principal_id = ?", models.PrincipalUser, id).
			Delete(&grantEntry{}).Error; err != nil {
			return translateGormError(err)
		}
		return affectedOne(tx.Where("id = ?", id).Delete(&userEntry{}))
	})
}

func (g *gormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := g.conn(ctx).Model(&userEntry{}).Count(&count).Error
	return count, err
}

// ======================================================================================
// Groups

func (g *gormStore) CreateGroup(ctx context.Context, grp *models.Group) error {
	entry := groupEntry{ID: grp.ID, Name: grp.Name, CreatedAt: grp.CreatedAt.UTC()}
	return translateGormError(g.conn(ctx).Create(&entry).Error)
}

func (g *gormStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var entry groupEntry
	if err := g.conn(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var entries []groupEntry
	if err := g.conn(ctx).Order("name").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list groups [%w]", err)
	}
	groups := make([]*models.Group, 0, len(entries))
	for _, e := range entries {
		groups = append(groups, e.toModel())
	}
	return groups, nil
}

func (g *gormStore) DeleteGroup(ctx context.Context, id string) error {
	if err := g.conn(ctx).
		Where("principal_kind = ? AND principal_id = ?", models.PrincipalGroup, id).
		Delete(&grantEntry{}).Error; err != nil {
		return translateGormError(err)
	}
	return affectedOne(g.conn(ctx).Where("id = ?", id).Delete(&groupEntry{}))
}

func (g *gormStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	entry := groupMemberEntry{GroupID: groupID, UserID: userID}
	err := g.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&entry).Error
	if errors.Is(translateGormError(err), ErrProtected) {
		return ErrNotFound
	}
	return translateGormError(err)
}

func (g *gormStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return g.conn(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&groupMemberEntry{}).Error
}

func (g *gormStore) ListGroupMembers(ctx context.Context, groupID string) ([]*models.User, error) {
	var entries []userEntry
	err := g.conn(ctx).
		Joins("JOIN group_members ON group_members.user_id = users.id").
		Where("group_members.group_id = ?", groupID).
		Order("users.email").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list group members [%w]", err)
	}
	users := make([]*models.User, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.toModel())
	}
	return users, nil
}

func (g *gormStore) UserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := g.conn(ctx).Model(&groupMemberEntry{}).
		Where("user_id = ?", userID).
		Order("group_id").
		Pluck("group_id", &ids).Error
	return ids, err
}

// ======================================================================================
// Secrets

func (g *gormStore) CreateSecret(ctx context.Context, s *models.Secret) error {
	entry := newSecretEntry(s)
	return translateGormError(g.conn(ctx).Omit(clause.Associations).Create(&entry).Error)
}

func (g *gormStore) getSecretEntry(ctx context.Context, id string) (secretEntry, error) {
	var entry secretEntry
	err := g.conn(ctx).Where("id = ?", id).First(&entry).Error
	return entry, translateGormError(err)
}

func (g *gormStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	entry, err := g.getSecretEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.toModel(), nil
}

func (g *gormStore) GetSecretSummary(ctx context.Context, id string) (*models.Secret, error) {
	entry, err := g.getSecretEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.toSummary(), nil
}

// LockSecret only checks existence: the write lock is already held since the
// transaction began with BEGIN IMMEDIATE.
func (g *gormStore) LockSecret(ctx context.Context, id string) error {
	var count int64
	if err := g.conn(ctx).Model(&secretEntry{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) UpdateSecret(ctx context.Context, s *models.Secret) error {
	return affectedOne(g.conn(ctx).Model(&secretEntry{}).Where("id = ?", s.ID).Updates(map[string]any{
		"name":       s.Name,
		"url":        s.URL,
		"username":   s.Username,
		"password":   s.Password,
		"details":    s.Details,
		"updated_at": s.UpdatedAt.UTC(),
	}))
}

func (g *gormStore) SetSecretOTP(ctx context.Context, id, otpURI string, at time.Time) error {
	return affectedOne(g.conn(ctx).Model(&secretEntry{}).Where("id = ?", id).Updates(map[string]any{
		"otp_uri":    otpURI,
		"updated_at": at.UTC(),
	}))
}

func (g *gormStore) SoftDeleteSecret(ctx context.Context, s *models.Secret) error {
	return affectedOne(g.conn(ctx).Model(&secretEntry{}).Where("id = ?", s.ID).Updates(map[string]any{
		"password":   s.Password,
		"details":    s.Details,
		"otp_uri":    s.OTPURI,
		"deleted":    true,
		"updated_at": s.UpdatedAt.UTC(),
	}))
}

func (g *gormStore) ListSecrets(ctx context.Context, filter SecretFilter) ([]*models.Secret, error) {
	query := g.conn(ctx).Model(&secretEntry{})

	if !filter.IncludeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if filter.NameContains != "" {
		query = query.Where(`lower(name) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(filter.NameContains))+"%")
	}
	if filter.Username != "" {
		query = query.Where("username = ?", filter.Username)
	}
	if filter.VisibleTo != nil {
		if len(filter.VisibleTo) == 0 {
			return []*models.Secret{}, nil
		}
		conds := make([]string, 0, len(filter.VisibleTo))
		args := make([]any, 0, 2*len(filter.VisibleTo))
		for _, p := range filter.VisibleTo {
			conds = append(conds, "(g.principal_kind = ? AND g.principal_id = ?)")
			args = append(args, string(p.Kind), p.ID)
		}
		query = query.Where(
			"EXISTS (SELECT 1 FROM permission_grants g WHERE g.secret_id = secrets.id AND ("+
				strings.Join(conds, " OR ")+"))", args...,
		)
	}
	if filter.GrantedTo != nil {
		query = query.Where(
			"EXISTS (SELECT 1 FROM permission_grants g WHERE g.secret_id = secrets.id AND g.principal_kind = ? AND g.principal_id = ?)",
			string(filter.GrantedTo.Kind), filter.GrantedTo.ID,
		)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []secretEntry
	if err := query.Order("name, id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list secrets [%w]", err)
	}
	secrets := make([]*models.Secret, 0, len(entries))
	for _, e := range entries {
		secrets = append(secrets, e.toSummary())
	}
	return secrets, nil
}

// ======================================================================================
// Files

func (g *gormStore) CreateFile(ctx context.Context, f *models.File) error {
	entry := fileEntry{
		ID:        f.ID,
		SecretID:  f.SecretID,
		Name:      f.Name,
		Data:      f.Data,
		Size:      f.Size,
		CreatedBy: f.CreatedBy,
		CreatedAt: f.CreatedAt.UTC(),
	}
	return translateGormError(g.conn(ctx).Omit(clause.Associations).Create(&entry).Error)
}

func (g *gormStore) GetFile(ctx context.Context, secretID, fileID string) (*models.File, error) {
	var entry fileEntry
	if err := g.conn(ctx).Where("secret_id = ? AND id = ?", secretID, fileID).First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) GetFileInfo(ctx context.Context, secretID, fileID string) (*models.File, error) {
	var entry fileEntry
	err := g.conn(ctx).
		Select("id", "secret_id", "name", "size", "created_by", "created_at").
		Where("secret_id = ? AND id = ?", secretID, fileID).
		First(&entry).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) ListFiles(ctx context.Context, secretID string) ([]*models.File, error) {
	var entries []fileEntry
	err := g.conn(ctx).
		Select("id", "secret_id", "name", "size", "created_by", "created_at").
		Where("secret_id = ?", secretID).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files [%w]", err)
	}
	files := make([]*models.File, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.toModel())
	}
	return files, nil
}

func (g *gormStore) DeleteFile(ctx context.Context, secretID, fileID string) error {
	return affectedOne(g.conn(ctx).Where("secret_id = ? AND id = ?", secretID, fileID).Delete(&fileEntry{}))
}

// ======================================================================================
// Permission grants

func (g *gormStore) ListGrants(ctx context.Context, filter GrantFilter) ([]models.Grant, error) {
	query := g.conn(ctx).Where("secret_id = ?", filter.SecretID)
	if filter.Principals != nil {
		if len(filter.Principals) == 0 {
			return []models.Grant{}, nil
		}
		conds := make([]string, 0, len(filter.Principals))
		args := make([]any, 0, 2*len(filter.Principals))
		for _, p := range filter.Principals {
			conds = append(conds, "(principal_kind = ? AND principal_id = ?)")
			args = append(args, string(p.Kind), p.ID)
		}
		query = query.Where(strings.Join(conds, " OR "), args...)
	}

	var entries []grantEntry
	if err := query.Order("created_at, id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list grants [%w]", err)
	}
	grants := make([]models.Grant, 0, len(entries))
	for _, e := range entries {
		grants = append(grants, e.toModel())
	}
	return grants, nil
}

func (g *gormStore) AddGrant(ctx context.Context, grant models.Grant) error {
	entry := grantEntry{
		SecretID:      grant.SecretID,
		PrincipalKind: string(grant.Principal.Kind),
		PrincipalID:   grant.Principal.ID,
		Level:         string(grant.Level),
		CreatedAt:     grant.CreatedAt.UTC(),
	}
	err := translateGormError(g.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&entry).Error)
	if errors.Is(err, ErrProtected) {
		return ErrNotFound
	}
	return err
}

func (g *gormStore) RemoveGrant(ctx context.Context, secretID string, p models.Principal, level models.Level) error {
	return g.conn(ctx).
		Where("secret_id = ? AND principal_kind = ? AND principal_id = ? AND level = ?",
			secretID, string(p.Kind), p.ID, string(level)).
		Delete(&grantEntry{}).Error
}

// ======================================================================================
// Audit

func (g *gormStore) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	entry := auditRecordEntry{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		UserID:      e.UserID,
		Action:      string(e.Action),
		Description: e.Description,
		SecretID:    e.SecretID,
	}
	if tmp := g.conn(ctx).Omit(clause.Associations).Create(&entry); tmp.Error != nil {
		return fmt.Errorf("audit entry '%s' insert failed [%w]", e.Action, translateGormError(tmp.Error))
	}
	return nil
}

func (g *gormStore) FindRecentAuditEntry(ctx context.Context, m AuditMatch) (*models.AuditEntry, error) {
	query := g.conn(ctx).
		Where("user_id = ? AND action = ? AND timestamp >= ?", m.UserID, string(m.Action), m.Since.UTC())
	if m.SecretID != nil {
		query = query.Where("secret_id = ?", *m.SecretID)
	}
	var entry auditRecordEntry
	if err := query.Order("timestamp DESC, id DESC").First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := g.conn(ctx).Model(&auditRecordEntry{})

	if filter.SecretID != "" {
		query = query.Where("secret_id = ?", filter.SecretID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		query = query.Where("action IN ?", actions)
	}
	if filter.Since != nil {
		query = query.Where("timestamp >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []auditRecordEntry
	if err := query.Order("timestamp DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit log [%w]", err)
	}
	result := make([]*models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.toModel())
	}
	return result, nil
}

// ======================================================================================
// Tokens

func (g *gormStore) WriteToken(ctx context.Context, t *models.Token, tokenHash string) error {
	entry := tokenEntry{
		ID:          t.ID,
		TokenHash:   tokenHash,
		UserID:      t.UserID,
		DisplayName: t.DisplayName,
		TwoFactor:   t.TwoFactor,
		TTLSeconds:  int64(t.TTL.Seconds()),
		CreatedAt:   t.CreatedAt.UTC(),
		ExpiresAt:   nullableTime(t.ExpiresAt.UTC()),
	}
	return translateGormError(g.conn(ctx).Omit(clause.Associations).Create(&entry).Error)
}

func (g *gormStore) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var entry tokenEntry
	if err := g.conn(ctx).Where("token_hash = ?", tokenHash).First(&entry).Error; err != nil {
		return nil, translateGormError(err)
	}
	return entry.toModel(), nil
}

func (g *gormStore) RevokeToken(ctx context.Context, tokenID string) error {
	return affectedOne(g.conn(ctx).Model(&tokenEntry{}).
		Where("id = ? AND revoked_at IS NULL", tokenID).
		Update("revoked_at", time.Now().UTC()))
}

func (g *gormStore) RevokeUserTokens(ctx context.Context, userID string) error {
	return g.conn(ctx).Model(&tokenEntry{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC()).Error
}

// ======================================================================================
// Metrics

func (g *gormStore) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := g.conn(ctx).Model(&secretEntry{}).Where("deleted = ?", false).Count(&count).Error
	return count, err
}

func (g *gormStore) CountActiveTokens(ctx context.Context) (int64, error) {
	var count int64
	err := g.conn(ctx).Model(&tokenEntry{}).
		Where("revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", time.Now().UTC()).
		Count(&count).Error
	return count, err
}
