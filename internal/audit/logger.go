package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRepeatWindow is how long a repeated read is suppressed by default.
const DefaultRepeatWindow = 12 * time.Hour

const maxDescription = 255

var (
	writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passvault_audit_writes_total",
		Help: "Audit entries written, by action.",
	}, []string{"action"})

	suppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passvault_audit_suppressed_total",
		Help: "Repeated audit entries suppressed inside the repeat window, by action.",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(writesTotal, suppressedTotal)
}

// Writer is the storage the Logger appends to.
type Writer interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	FindRecentAuditEntry(ctx context.Context, match storage.AuditMatch) (*models.AuditEntry, error)
	QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Scope decides which earlier entries suppress a repeated one.
type Scope int

const (
	// ScopeSecret matches entries for the same user, action and secret.
	ScopeSecret Scope = iota
	// ScopeUser matches entries for the same user and action on any secret.
	ScopeUser
)

// Event describes an action to record. SecretID is empty for actions not
// tied to one secret.
type Event struct {
	UserID      string
	Action      models.AuditAction
	Description string
	SecretID    string
}

// Logger appends audit entries. Entries are never updated or deleted.
type Logger struct {
	store    Writer
	window   time.Duration
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates an audit Logger. window is the repeat-suppression window
// used by RecordOnce; zero or negative disables suppression.
func NewLogger(store Writer, window time.Duration, opts ...Option) *Logger {
	l := &Logger{
		store:    store,
		window:   window,
		now:      time.Now,
		validate: models.NewValidator(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a Logger writing through tx, typically a transaction.
func (l *Logger) With(tx Writer) *Logger {
	clone := *l
	clone.store = tx
	return &clone
}

// Window returns the configured repeat window.
func (l *Logger) Window() time.Duration {
	return l.window
}

// Record unconditionally appends one entry.
func (l *Logger) Record(ctx context.Context, ev Event) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:          ulid.Make().String(),
		Timestamp:   l.now().UTC(),
		UserID:      ev.UserID,
		Action:      ev.Action,
		Description: truncate(ev.Description, maxDescription),
	}
	if ev.SecretID != "" {
		id := ev.SecretID
		entry.SecretID = &id
	}
	if err := l.validate.Struct(entry); err != nil {
		return nil, fmt.Errorf("invalid audit entry: %w", err)
	}
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		return nil, err
	}
	writesTotal.WithLabelValues(string(ev.Action)).Inc()
	return entry, nil
}

// RecordOnce appends an entry unless one for the same user and action (and
// secret, with ScopeSecret) was written within the repeat window. Returns
// whether a new entry was written.
func (l *Logger) RecordOnce(ctx context.Context, ev Event, scope Scope) (bool, error) {
	if l.window > 0 {
		match := storage.AuditMatch{
			UserID: ev.UserID,
			Action: ev.Action,
			Since:  l.now().UTC().Add(-l.window),
		}
		if scope == ScopeSecret && ev.SecretID != "" {
			id := ev.SecretID
			match.SecretID = &id
		}
		_, err := l.store.FindRecentAuditEntry(ctx, match)
		switch {
		case err == nil:
			suppressedTotal.WithLabelValues(string(ev.Action)).Inc()
			return false, nil
		case !errors.Is(err, storage.ErrNotFound):
			return false, err
		}
	}
	if _, err := l.Record(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}

// ForSecret returns a secret's entries, newest first.
func (l *Logger) ForSecret(ctx context.Context, secretID string, limit, offset int) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, storage.AuditFilter{SecretID: secretID, Limit: limit, Offset: offset})
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
