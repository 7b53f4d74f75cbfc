package models

import "time"

// AuditAction is the closed set of audited actions.
type AuditAction string

const (
	ActionCreated           AuditAction = "created"
	ActionUpdated           AuditAction = "updated"
	ActionViewed            AuditAction = "viewed"
	ActionDeleted           AuditAction = "deleted"
	ActionPermissionAdded   AuditAction = "permission_added"
	ActionPermissionRemoved AuditAction = "permission_removed"
	ActionOTPEnrolled       AuditAction = "otp_enrolled"
	ActionOTPRemoved        AuditAction = "otp_removed"
	ActionOTPTokenGenerated AuditAction = "otp_token_generated"
	ActionFileUploaded      AuditAction = "file_uploaded"
	ActionFileDeleted       AuditAction = "file_deleted"
	ActionFileDownloaded    AuditAction = "file_downloaded"
	ActionImported          AuditAction = "imported"
)

// Valid reports whether a belongs to the enumeration.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionViewed, ActionDeleted,
		ActionPermissionAdded, ActionPermissionRemoved,
		ActionOTPEnrolled, ActionOTPRemoved, ActionOTPTokenGenerated,
		ActionFileUploaded, ActionFileDeleted, ActionFileDownloaded,
		ActionImported:
		return true
	}
	return false
}

// AuditEntry is one immutable audit record. SecretID is nil for actions not
// tied to a single secret.
type AuditEntry struct {
	ID          string      `json:"id" validate:"required"`
	Timestamp   time.Time   `json:"timestamp" validate:"required"`
	UserID      string      `json:"user_id" validate:"required"`
	Action      AuditAction `json:"action" validate:"required,audit_action"`
	Description string      `json:"description,omitempty" validate:"max=255"`
	SecretID    *string     `json:"secret_id,omitempty"`
}
