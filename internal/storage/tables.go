package storage

import (
	"time"

	"github.com/org/passvault/pkg/models"
)

// --------------------------------------------------------------------------------------
// Users and groups

// userEntry user DB entry
type userEntry struct {
	ID           string     `gorm:"column:id;primaryKey"`
	Email        string     `gorm:"column:email;not null;uniqueIndex"`
	FirstName    string     `gorm:"column:first_name;not null"`
	LastName     string     `gorm:"column:last_name;not null"`
	Active       bool       `gorm:"column:active;not null"`
	Superuser    bool       `gorm:"column:superuser;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	LastAccessed *time.Time `gorm:"column:last_accessed"`
}

// TableName hard code table name
func (userEntry) TableName() string {
	return "users"
}

func newUserEntry(u *models.User) userEntry {
	return userEntry{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Active:       u.Active,
		Superuser:    u.Superuser,
		CreatedAt:    u.CreatedAt.UTC(),
		LastAccessed: utcPtr(u.LastAccessed),
	}
}

func (e userEntry) toModel() *models.User {
	return &models.User{
		ID:           e.ID,
		Email:        e.Email,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		Active:       e.Active,
		Superuser:    e.Superuser,
		CreatedAt:    e.CreatedAt.UTC(),
		LastAccessed: utcPtr(e.LastAccessed),
	}
}

// groupEntry group DB entry
type groupEntry struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName hard code table name
func (groupEntry) TableName() string {
	return "groups"
}

func (e groupEntry) toModel() *models.Group {
	return &models.Group{ID: e.ID, Name: e.Name, CreatedAt: e.CreatedAt.UTC()}
}

// groupMemberEntry group membership DB entry
type groupMemberEntry struct {
	GroupID string     `gorm:"column:group_id;primaryKey"`
	UserID  string     `gorm:"column:user_id;primaryKey;index"`
	Group   groupEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:GroupID"`
	User    userEntry  `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID"`
}

// TableName hard code table name
func (groupMemberEntry) TableName() string {
	return "group_members"
}

// --------------------------------------------------------------------------------------
// Secrets

// secretEntry secret DB entry. Password, Details and OTPURI hold ciphertext.
type secretEntry struct {
	ID        string     `gorm:"column:id;primaryKey"`
	Name      string     `gorm:"column:name;not null;index"`
	URL       string     `gorm:"column:url;not null"`
	Username  string     `gorm:"column:username;not null"`
	Password  string     `gorm:"column:password;not null"`
	Details   string     `gorm:"column:details;not null"`
	OTPURI    string     `gorm:"column:otp_uri;not null"`
	Deleted   bool       `gorm:"column:deleted;not null"`
	CreatedBy *string    `gorm:"column:created_by"`
	CreatedAt time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	Creator   *userEntry `gorm:"constraint:OnDelete:RESTRICT;foreignKey:CreatedBy"`
}

// TableName hard code table name
func (secretEntry) TableName() string {
	return "secrets"
}

func newSecretEntry(s *models.Secret) secretEntry {
	return secretEntry{
		ID:        s.ID,
		Name:      s.Name,
		URL:       s.URL,
		Username:  s.Username,
		Password:  s.Password,
		Details:   s.Details,
		OTPURI:    s.OTPURI,
		Deleted:   s.Deleted,
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func (e secretEntry) toModel() *models.Secret {
	return &models.Secret{
		ID:         e.ID,
		Name:       e.Name,
		URL:        e.URL,
		Username:   e.Username,
		Password:   e.Password,
		Details:    e.Details,
		OTPURI:     e.OTPURI,
		OTPEnabled: e.OTPURI != "",
		Deleted:    e.Deleted,
		CreatedBy:  e.CreatedBy,
		CreatedAt:  e.CreatedAt.UTC(),
		UpdatedAt:  e.UpdatedAt.UTC(),
	}
}

// toSummary drops the encrypted attributes.
func (e secretEntry) toSummary() *models.Secret {
	s := e.toModel()
	s.Password, s.Details, s.OTPURI = "", "", ""
	return s
}

// grantEntry permission grant DB entry
type grantEntry struct {
	ID            uint64      `gorm:"column:id;primaryKey;autoIncrement"`
	SecretID      string      `gorm:"column:secret_id;not null;uniqueIndex:idx_grants_unique,priority:1"`
	PrincipalKind string      `gorm:"column:principal_kind;not null;uniqueIndex:idx_grants_unique,priority:2;index:idx_grants_principal,priority:1"`
	PrincipalID   string      `gorm:"column:principal_id;not null;uniqueIndex:idx_grants_unique,priority:3;index:idx_grants_principal,priority:2"`
	Level         string      `gorm:"column:level;not null;uniqueIndex:idx_grants_unique,priority:4"`
	CreatedAt     time.Time   `gorm:"column:created_at;not null;autoCreateTime:false"`
	Secret        secretEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:SecretID"`
}

// TableName hard code table name
func (grantEntry) TableName() string {
	return "permission_grants"
}

func (e grantEntry) toModel() models.Grant {
	return models.Grant{
		SecretID: e.SecretID,
		Principal: models.Principal{
			Kind: models.PrincipalKind(e.PrincipalKind),
			ID:   e.PrincipalID,
		},
		Level:     models.Level(e.Level),
		CreatedAt: e.CreatedAt.UTC(),
	}
}

// fileEntry attachment DB entry. Data holds ciphertext.
type fileEntry struct {
	ID        string      `gorm:"column:id;primaryKey"`
	SecretID  string      `gorm:"column:secret_id;not null;index"`
	Name      string      `gorm:"column:name;not null"`
	Data      []byte      `gorm:"column:data;not null"`
	Size      int64       `gorm:"column:size;not null"`
	CreatedBy string      `gorm:"column:created_by;not null"`
	CreatedAt time.Time   `gorm:"column:created_at;not null;autoCreateTime:false"`
	Secret    secretEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:SecretID"`
	Creator   userEntry   `gorm:"constraint:OnDelete:RESTRICT;foreignKey:CreatedBy"`
}

// TableName hard code table name
func (fileEntry) TableName() string {
	return "secret_files"
}

func (e fileEntry) toModel() *models.File {
	return &models.File{
		ID:        e.ID,
		SecretID:  e.SecretID,
		Name:      e.Name,
		Data:      e.Data,
		Size:      e.Size,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt.UTC(),
	}
}

// --------------------------------------------------------------------------------------
// Audit

// auditRecordEntry audit entry DB entry
type auditRecordEntry struct {
	ID          string       `gorm:"column:id;primaryKey"`
	Timestamp   time.Time    `gorm:"column:timestamp;not null;index:idx_audit_dedup,priority:3"`
	UserID      string       `gorm:"column:user_id;not null;index:idx_audit_dedup,priority:1"`
	Action      string       `gorm:"column:action;not null;index:idx_audit_dedup,priority:2"`
	Description string       `gorm:"column:description;not null"`
	SecretID    *string      `gorm:"column:secret_id;index"`
	User        userEntry    `gorm:"constraint:OnDelete:RESTRICT;foreignKey:UserID"`
	Secret      *secretEntry `gorm:"constraint:OnDelete:RESTRICT;foreignKey:SecretID"`
}

// TableName hard code table name
func (auditRecordEntry) TableName() string {
	return "audit_entries"
}

func (e auditRecordEntry) toModel() *models.AuditEntry {
	return &models.AuditEntry{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		UserID:      e.UserID,
		Action:      models.AuditAction(e.Action),
		Description: e.Description,
		SecretID:    e.SecretID,
	}
}

// --------------------------------------------------------------------------------------
// Tokens

// tokenEntry API token DB entry
type tokenEntry struct {
	ID          string     `gorm:"column:id;primaryKey"`
	TokenHash   string     `gorm:"column:token_hash;not null;uniqueIndex"`
	UserID      string     `gorm:"column:user_id;not null;index"`
	DisplayName string     `gorm:"column:display_name;not null"`
	TwoFactor   bool       `gorm:"column:two_factor;not null"`
	TTLSeconds  int64      `gorm:"column:ttl_seconds;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	RevokedAt   *time.Time `gorm:"column:revoked_at"`
	User        userEntry  `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID"`
}

// TableName hard code table name
func (tokenEntry) TableName() string {
	return "tokens"
}

func (e tokenEntry) toModel() *models.Token {
	t := &models.Token{
		ID:          e.ID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		TwoFactor:   e.TwoFactor,
		TTL:         time.Duration(e.TTLSeconds) * time.Second,
		CreatedAt:   e.CreatedAt.UTC(),
		RevokedAt:   utcPtr(e.RevokedAt),
	}
	if e.ExpiresAt != nil {
		t.ExpiresAt = e.ExpiresAt.UTC()
	}
	return t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
