package models

import "time"

// Secret is a stored credential. Password, Details and OTPURI are encrypted at rest.
type Secret struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"password,omitempty"`
	Details    string    `json:"details,omitempty"`
	OTPURI     string    `json:"-"`
	OTPEnabled bool      `json:"otp_enabled"`
	Deleted    bool      `json:"deleted,omitempty"`
	CreatedBy  *string   `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Scrub clears every sensitive attribute and marks the secret deleted.
func (s *Secret) Scrub() {
	s.Password = ""
	s.Details = ""
	s.OTPURI = ""
	s.OTPEnabled = false
	s.Deleted = true
}

// SecretFields are the caller-editable attributes of a secret.
type SecretFields struct {
	Name     string `json:"name" validate:"required,max=255"`
	URL      string `json:"url" validate:"omitempty,url,max=200"`
	Username string `json:"username" validate:"max=255"`
	Password string `json:"password" validate:"max=255"`
	Details  string `json:"details"`
}

// Apply copies the fields onto s.
func (f SecretFields) Apply(s *Secret) {
	s.Name = f.Name
	s.URL = f.URL
	s.Username = f.Username
	s.Password = f.Password
	s.Details = f.Details
}

// File is a blob attached to a secret. Data is encrypted at rest and is
// only populated on download.
type File struct {
	ID        string    `json:"id"`
	SecretID  string    `json:"secret_id"`
	Name      string    `json:"name"`
	Data      []byte    `json:"-"`
	Size      int64     `json:"size"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
