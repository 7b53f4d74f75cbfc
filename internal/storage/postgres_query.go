package storage

import (
	"fmt"
	"strings"
)

// pgQuery accumulates SQL text and its positional arguments. arg appends a
// value and returns its $n placeholder, so numbering always matches args.
type pgQuery struct {
	sql  strings.Builder
	args []any
}

func (q *pgQuery) raw(s string) {
	q.sql.WriteString(s)
}

func (q *pgQuery) write(format string, a ...any) {
	fmt.Fprintf(&q.sql, format, a...)
}

func (q *pgQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *pgQuery) page(limit, offset int) {
	if limit > 0 {
		q.write(` LIMIT %s`, q.arg(limit))
	}
	if offset > 0 {
		q.write(` OFFSET %s`, q.arg(offset))
	}
}

func secretListQuery(filter SecretFilter) (string, []any) {
	q := &pgQuery{}
	q.raw(`SELECT ` + secretSummaryColumns + ` FROM secrets s WHERE 1=1`)
	if !filter.IncludeDeleted {
		q.raw(` AND deleted = FALSE`)
	}
	if filter.NameContains != "" {
		q.write(` AND name ILIKE %s`, q.arg("%"+escapeLike(filter.NameContains)+"%"))
	}
	if filter.Username != "" {
		q.write(` AND username = %s`, q.arg(filter.Username))
	}
	if filter.VisibleTo != nil {
		q.raw(` AND EXISTS (SELECT 1 FROM permission_grants g WHERE g.secret_id = s.id AND (FALSE`)
		for _, pr := range filter.VisibleTo {
			q.write(` OR (g.principal_kind = %s AND g.principal_id = %s)`, q.arg(string(pr.Kind)), q.arg(pr.ID))
		}
		q.raw(`))`)
	}
	if filter.GrantedTo != nil {
		q.write(` AND EXISTS (SELECT 1 FROM permission_grants g WHERE g.secret_id = s.id AND g.principal_kind = %s AND g.principal_id = %s)`,
			q.arg(string(filter.GrantedTo.Kind)), q.arg(filter.GrantedTo.ID))
	}
	q.raw(` ORDER BY name, id`)
	q.page(filter.Limit, filter.Offset)
	return q.sql.String(), q.args
}

func grantListQuery(filter GrantFilter) (string, []any) {
	q := &pgQuery{}
	q.write(`SELECT secret_id, principal_kind, principal_id, level, created_at FROM permission_grants WHERE secret_id = %s`,
		q.arg(filter.SecretID))
	if filter.Principals != nil {
		q.raw(` AND (FALSE`)
		for _, pr := range filter.Principals {
			q.write(` OR (principal_kind = %s AND principal_id = %s)`, q.arg(string(pr.Kind)), q.arg(pr.ID))
		}
		q.raw(`)`)
	}
	q.raw(` ORDER BY created_at, id`)
	return q.sql.String(), q.args
}

func recentAuditQuery(m AuditMatch) (string, []any) {
	q := &pgQuery{}
	q.write(`SELECT `+auditColumns+` FROM audit_entries WHERE user_id = %s AND action = %s AND timestamp >= %s`,
		q.arg(m.UserID), q.arg(string(m.Action)), q.arg(m.Since))
	if m.SecretID != nil {
		q.write(` AND secret_id = %s`, q.arg(*m.SecretID))
	}
	q.raw(` ORDER BY timestamp DESC, id DESC LIMIT 1`)
	return q.sql.String(), q.args
}

func auditLogQuery(filter AuditFilter) (string, []any) {
	q := &pgQuery{}
	q.raw(`SELECT ` + auditColumns + ` FROM audit_entries WHERE 1=1`)
	if filter.SecretID != "" {
		q.write(` AND secret_id = %s`, q.arg(filter.SecretID))
	}
	if filter.UserID != "" {
		q.write(` AND user_id = %s`, q.arg(filter.UserID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		q.write(` AND action = ANY(%s::text[])`, q.arg(actions))
	}
	if filter.Since != nil {
		q.write(` AND timestamp >= %s`, q.arg(*filter.Since))
	}
	q.raw(` ORDER BY timestamp DESC, id DESC`)
	q.page(filter.Limit, filter.Offset)
	return q.sql.String(), q.args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
