package pg

import (
	"context"
	"database/sql"
	"time"

	"charterops.org/internal/audit"
)

// Audit exposes the append-only audit store.
func (s *Store) Audit() audit.Store { return &pgAudit{s: s} }

type pgAudit struct {
	s *Store
}

const auditColumns = `id, occurred_at, principal_id, action, module, entity_type, entity_id, before, after, success, error, request_id`

func (a *pgAudit) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into audit_entries (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.OccurredAt, entry.PrincipalID, entry.Action,
		entry.Module, entry.EntityType, entry.EntityID,
		nullableJSON(entry.Before), nullableJSON(entry.After),
		entry.Success, entry.Error, entry.RequestID)
	return err
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (a *pgAudit) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select `+auditColumns+` from audit_entries
		where entity_type = $1 and entity_id = $2
		order by occurred_at desc, id desc
		limit $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func (a *pgAudit) ListByTime(ctx context.Context, from, to time.Time, limit int) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select `+auditColumns+` from audit_entries
		where occurred_at >= $1 and occurred_at < $2
		order by occurred_at desc, id desc
		limit $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]audit.Entry, error) {
	entries := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		var before, after []byte
		var module, errMsg, requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.PrincipalID, &e.Action,
			&module, &e.EntityType, &e.EntityID, &before, &after,
			&e.Success, &errMsg, &requestID); err != nil {
			return nil, err
		}
		e.Module = module.String
		e.Error = errMsg.String
		e.RequestID = requestID.String
		if len(before) > 0 {
			e.Before = before
		}
		if len(after) > 0 {
			e.After = after
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
