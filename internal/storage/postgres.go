package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/passvault/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pgStore implements Store over a pool or a transaction.
type pgStore struct {
	q querier
}

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pgStore
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pgStore: pgStore{q: pool}, pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// RunInTx runs fn inside a READ COMMITTED transaction. Grant mutations take a
// row lock on the secret (LockSecret) to serialize concurrent reconciliation.
func (p *PostgresBackend) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &pgStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// translatePgError maps constraint violations onto the package sentinels.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrProtected, pgErr.ConstraintName)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func expectOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

const userColumns = `id, email, first_name, last_name, active, superuser, created_at, last_accessed`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Active, &u.Superuser,
		&u.CreatedAt, &u.LastAccessed)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (p *pgStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Active, u.Superuser, u.CreatedAt, u.LastAccessed,
	)
	return translatePgError(err)
}

func (p *pgStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *pgStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (p *pgStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
}

func (p *pgStore) queryUsers(ctx context.Context, sql string, args ...any) ([]*models.User, error) {
	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *pgStore) UpdateUser(ctx context.Context, u *models.User) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE users SET email = $2, first_name = $3, last_name = $4, active = $5, superuser = $6
		 WHERE id = $1`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Active, u.Superuser,
	)
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag)
}

func (p *pgStore) TouchUser(ctx context.Context, id string, at time.Time) error {
	_, err := p.q.Exec(ctx, `UPDATE users SET last_accessed = $2 WHERE id = $1`, id, at)
	return err
}

// DeleteUser removes the user and their direct grants. Inside a transaction
// the work runs under a savepoint so a RESTRICT failure leaves the outer
// transaction usable.
func (p *pgStore) DeleteUser(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, p.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM permission_grants WHERE principal_kind = 'user' AND principal_id = $1`, id,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return translatePgError(err)
		}
		return expectOne(tag)
	})
}

func (p *pgStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// --- Groups ---

func (p *pgStore) CreateGroup(ctx context.Context, g *models.Group) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO groups (id, name, created_at) VALUES ($1, $2, $3)`,
		g.ID, g.Name, g.CreatedAt,
	)
	return translatePgError(err)
}

func (p *pgStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	err := p.q.QueryRow(ctx, `SELECT id, name, created_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (p *pgStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := p.q.Query(ctx, `SELECT id, name, created_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := []*models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (p *pgStore) DeleteGroup(ctx context.Context, id string) error {
	if _, err := p.q.Exec(ctx,
		`DELETE FROM permission_grants WHERE principal_kind = 'group' AND principal_id = $1`, id,
	); err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag)
}

func (p *pgStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		if errors.Is(translatePgError(err), ErrProtected) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (p *pgStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := p.q.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

func (p *pgStore) ListGroupMembers(ctx context.Context, groupID string) ([]*models.User, error) {
	return p.queryUsers(ctx,
		`SELECT u.id, u.email, u.first_name, u.last_name, u.active, u.superuser, u.created_at, u.last_accessed
		 FROM users u JOIN group_members m ON m.user_id = u.id
		 WHERE m.group_id = $1 ORDER BY u.email`, groupID)
}

func (p *pgStore) UserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.q.Query(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Secrets ---

const secretSummaryColumns = `id, name, url, username, otp_uri <> '', deleted, created_by, created_at, updated_at`

func scanSecretSummary(row pgx.Row) (*models.Secret, error) {
	var s models.Secret
	err := row.Scan(&s.ID, &s.Name, &s.URL, &s.Username, &s.OTPEnabled, &s.Deleted,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *pgStore) CreateSecret(ctx context.Context, s *models.Secret) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO secrets (id, name, url, username, password, details, otp_uri, deleted, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Name, s.URL, s.Username, s.Password, s.Details, s.OTPURI, s.Deleted,
		s.CreatedBy, s.CreatedAt, s.UpdatedAt,
	)
	return translatePgError(err)
}

func (p *pgStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	var s models.Secret
	err := p.q.QueryRow(ctx,
		`SELECT id, name, url, username, password, details, otp_uri, deleted, created_by, created_at, updated_at
		 FROM secrets WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.URL, &s.Username, &s.Password, &s.Details, &s.OTPURI, &s.Deleted,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.OTPEnabled = s.OTPURI != ""
	return &s, nil
}

func (p *pgStore) GetSecretSummary(ctx context.Context, id string) (*models.Secret, error) {
	return scanSecretSummary(p.q.QueryRow(ctx,
		`SELECT `+secretSummaryColumns+` FROM secrets WHERE id = $1`, id))
}

func (p *pgStore) LockSecret(ctx context.Context, id string) error {
	var locked string
	err := p.q.QueryRow(ctx, `SELECT id FROM secrets WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return notFound(err)
}

func (p *pgStore) UpdateSecret(ctx context.Context, s *models.Secret) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE secrets
		 SET name = $2, url = $3, username = $4, password = $5, details = $6, updated_at = $7
		 WHERE id = $1`,
		s.ID, s.Name, s.URL, s.Username, s.Password, s.Details, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (p *pgStore) SetSecretOTP(ctx context.Context, id, otpURI string, at time.Time) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE secrets SET otp_uri = $2, updated_at = $3 WHERE id = $1`, id, otpURI, at)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (p *pgStore) SoftDeleteSecret(ctx context.Context, s *models.Secret) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE secrets
		 SET password = $2, details = $3, otp_uri = $4, deleted = TRUE, updated_at = $5
		 WHERE id = $1`,
		s.ID, s.Password, s.Details, s.OTPURI, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (p *pgStore) ListSecrets(ctx context.Context, filter SecretFilter) ([]*models.Secret, error) {
	query, args := secretListQuery(filter)
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	secrets := []*models.Secret{}
	for rows.Next() {
		s, err := scanSecretSummary(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// --- Files ---

func (p *pgStore) CreateFile(ctx context.Context, f *models.File) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO secret_files (id, secret_id, name, data, size, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.SecretID, f.Name, f.Data, f.Size, f.CreatedBy, f.CreatedAt,
	)
	return translatePgError(err)
}

func (p *pgStore) GetFile(ctx context.Context, secretID, fileID string) (*models.File, error) {
	var f models.File
	err := p.q.QueryRow(ctx,
		`SELECT id, secret_id, name, data, size, created_by, created_at
		 FROM secret_files WHERE secret_id = $1 AND id = $2`, secretID, fileID,
	).Scan(&f.ID, &f.SecretID, &f.Name, &f.Data, &f.Size, &f.CreatedBy, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (p *pgStore) GetFileInfo(ctx context.Context, secretID, fileID string) (*models.File, error) {
	var f models.File
	err := p.q.QueryRow(ctx,
		`SELECT id, secret_id, name, size, created_by, created_at
		 FROM secret_files WHERE secret_id = $1 AND id = $2`, secretID, fileID,
	).Scan(&f.ID, &f.SecretID, &f.Name, &f.Size, &f.CreatedBy, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (p *pgStore) ListFiles(ctx context.Context, secretID string) ([]*models.File, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, secret_id, name, size, created_by, created_at
		 FROM secret_files WHERE secret_id = $1 ORDER BY created_at, id`, secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := []*models.File{}
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.SecretID, &f.Name, &f.Size, &f.CreatedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (p *pgStore) DeleteFile(ctx context.Context, secretID, fileID string) error {
	tag, err := p.q.Exec(ctx,
		`DELETE FROM secret_files WHERE secret_id = $1 AND id = $2`, secretID, fileID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

// --- Permission grants ---

func (p *pgStore) ListGrants(ctx context.Context, filter GrantFilter) ([]models.Grant, error) {
	query, args := grantListQuery(filter)
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grants := []models.Grant{}
	for rows.Next() {
		var g models.Grant
		var kind, level string
		if err := rows.Scan(&g.SecretID, &kind, &g.Principal.ID, &level, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Principal.Kind = models.PrincipalKind(kind)
		g.Level = models.Level(level)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (p *pgStore) AddGrant(ctx context.Context, g models.Grant) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO permission_grants (secret_id, principal_kind, principal_id, level, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (secret_id, principal_kind, principal_id, level) DO NOTHING`,
		g.SecretID, string(g.Principal.Kind), g.Principal.ID, string(g.Level), g.CreatedAt,
	)
	if err != nil {
		if errors.Is(translatePgError(err), ErrProtected) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (p *pgStore) RemoveGrant(ctx context.Context, secretID string, pr models.Principal, level models.Level) error {
	_, err := p.q.Exec(ctx,
		`DELETE FROM permission_grants
		 WHERE secret_id = $1 AND principal_kind = $2 AND principal_id = $3 AND level = $4`,
		secretID, string(pr.Kind), pr.ID, string(level),
	)
	return err
}

// --- Audit ---

const auditColumns = `id, timestamp, user_id, action, description, secret_id`

func scanAuditEntry(row pgx.Row) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var action string
	if err := row.Scan(&e.ID, &e.Timestamp, &e.UserID, &action, &e.Description, &e.SecretID); err != nil {
		return nil, notFound(err)
	}
	e.Action = models.AuditAction(action)
	return &e, nil
}

func (p *pgStore) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Timestamp, e.UserID, string(e.Action), e.Description, e.SecretID,
	)
	return translatePgError(err)
}

func (p *pgStore) FindRecentAuditEntry(ctx context.Context, m AuditMatch) (*models.AuditEntry, error) {
	query, args := recentAuditQuery(m)
	return scanAuditEntry(p.q.QueryRow(ctx, query, args...))
}

func (p *pgStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query, args := auditLogQuery(filter)
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Tokens ---

func (p *pgStore) WriteToken(ctx context.Context, t *models.Token, tokenHash string) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, user_id, display_name, two_factor, ttl_seconds, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, tokenHash, t.UserID, t.DisplayName, t.TwoFactor, int64(t.TTL.Seconds()),
		t.CreatedAt, nullableTime(t.ExpiresAt),
	)
	return translatePgError(err)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *pgStore) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var t models.Token
	var ttlSec int64
	var expiresAt *time.Time
	err := p.q.QueryRow(ctx,
		`SELECT id, user_id, display_name, two_factor, ttl_seconds, created_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.DisplayName, &t.TwoFactor, &ttlSec, &t.CreatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		return nil, notFound(err)
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *pgStore) RevokeToken(ctx context.Context, tokenID string) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, tokenID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (p *pgStore) RevokeUserTokens(ctx context.Context, userID string) error {
	_, err := p.q.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

// --- Metrics ---

func (p *pgStore) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM secrets WHERE deleted = FALSE`).Scan(&count)
	return count, err
}

func (p *pgStore) CountActiveTokens(ctx context.Context) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())`,
	).Scan(&count)
	return count, err
}
