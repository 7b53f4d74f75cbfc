package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/stretchr/testify/assert"
)

// memWriter keeps entries in memory.
type memWriter struct {
	sync.Mutex
	entries []*models.AuditEntry
	failing error
}

func (m *memWriter) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.Lock()
	defer m.Unlock()
	if m.failing != nil {
		return m.failing
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memWriter) FindRecentAuditEntry(_ context.Context, match storage.AuditMatch) (*models.AuditEntry, error) {
	m.Lock()
	defer m.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.UserID != match.UserID || e.Action != match.Action || e.Timestamp.Before(match.Since) {
			continue
		}
		if match.SecretID != nil && (e.SecretID == nil || *e.SecretID != *match.SecretID) {
			continue
		}
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memWriter) QueryAuditLog(_ context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	m.Lock()
	defer m.Unlock()
	var out []*models.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.SecretID != "" && (e.SecretID == nil || *e.SecretID != filter.SecretID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memWriter) count(action models.AuditAction) int {
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRecordAlwaysAppends(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry, err := l.Record(ctx, Event{UserID: "u", Action: models.ActionUpdated, SecretID: "s1"})
		assert.Nil(err)
		assert.NotEmpty(entry.ID)
		assert.Equal("s1", *entry.SecretID)
	}
	assert.Equal(3, store.count(models.ActionUpdated))
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, time.Hour)

	_, err := l.Record(context.Background(), Event{UserID: "u", Action: "exploded"})
	assert.NotNil(err)
	assert.Empty(store.entries)
}

func TestRecordTruncatesDescription(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, time.Hour)

	entry, err := l.Record(context.Background(), Event{
		UserID: "u", Action: models.ActionImported, Description: strings.Repeat("é", 300),
	})
	assert.Nil(err)
	assert.Equal(255, len([]rune(entry.Description)))
	assert.Nil(entry.SecretID)
}

func TestRecordPropagatesWriteFailure(t *testing.T) {
	store := &memWriter{failing: errors.New("disk full")}
	l := NewLogger(store, time.Hour)

	_, err := l.Record(context.Background(), Event{UserID: "u", Action: models.ActionCreated})
	assert.EqualError(t, err, "disk full")
}

func TestRecordOnceWindow(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewLogger(store, 12*time.Hour, WithClock(clock.Now))
	ctx := context.Background()
	ev := Event{UserID: "u", Action: models.ActionViewed, SecretID: "s1"}

	written, err := l.RecordOnce(ctx, ev, ScopeSecret)
	assert.Nil(err)
	assert.True(written)

	clock.Advance(time.Hour)
	written, err = l.RecordOnce(ctx, ev, ScopeSecret)
	assert.Nil(err)
	assert.False(written)
	assert.Equal(1, store.count(models.ActionViewed))

	clock.Advance(11*time.Hour + time.Second)
	written, err = l.RecordOnce(ctx, ev, ScopeSecret)
	assert.Nil(err)
	assert.True(written)
	assert.Equal(2, store.count(models.ActionViewed))
}

func TestRecordOnceNoCrossSuppression(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, 12*time.Hour)
	ctx := context.Background()

	events := []Event{
		{UserID: "u", Action: models.ActionViewed, SecretID: "s1"},
		{UserID: "u", Action: models.ActionViewed, SecretID: "s2"},
		{UserID: "u", Action: models.ActionOTPTokenGenerated, SecretID: "s1"},
		{UserID: "v", Action: models.ActionViewed, SecretID: "s1"},
	}
	for _, ev := range events {
		written, err := l.RecordOnce(ctx, ev, ScopeSecret)
		assert.Nil(err)
		assert.True(written, "%+v should not be suppressed", ev)
	}
	assert.Len(store.entries, 4)
}

func TestRecordOnceUserScope(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, 12*time.Hour)
	ctx := context.Background()

	written, err := l.RecordOnce(ctx, Event{UserID: "u", Action: models.ActionViewed, SecretID: "s1"}, ScopeUser)
	assert.Nil(err)
	assert.True(written)

	written, err = l.RecordOnce(ctx, Event{UserID: "u", Action: models.ActionViewed, SecretID: "s2"}, ScopeUser)
	assert.Nil(err)
	assert.False(written)
}

func TestRecordOnceDisabledWindow(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	l := NewLogger(store, 0)
	ctx := context.Background()
	ev := Event{UserID: "u", Action: models.ActionViewed, SecretID: "s1"}

	for i := 0; i < 2; i++ {
		written, err := l.RecordOnce(ctx, ev, ScopeSecret)
		assert.Nil(err)
		assert.True(written)
	}
}

func TestForSecretNewestFirst(t *testing.T) {
	assert := assert.New(t)
	store := &memWriter{}
	clock := &fakeClock{t: time.Now().UTC()}
	l := NewLogger(store, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	for _, a := range []models.AuditAction{models.ActionCreated, models.ActionUpdated, models.ActionDeleted} {
		_, err := l.Record(ctx, Event{UserID: "u", Action: a, SecretID: "s1"})
		assert.Nil(err)
		clock.Advance(time.Minute)
	}
	_, err := l.Record(ctx, Event{UserID: "u", Action: models.ActionCreated, SecretID: "s2"})
	assert.Nil(err)

	entries, err := l.ForSecret(ctx, "s1", 0, 0)
	assert.Nil(err)
	assert.Len(entries, 3)
	assert.Equal(models.ActionDeleted, entries[0].Action)
	assert.Equal(models.ActionCreated, entries[2].Action)
}
