package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"charterops.org/internal/audit"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/staging"
)

// Locks exposes the record lock store.
func (s *Store) Locks() reclock.Store { return &sqLocks{s: s} }

type sqLocks struct {
	s *Store
}

func (l *sqLocks) Acquire(ctx context.Context, key records.Key, holder string, now, expires time.Time) (reclock.Lock, bool, error) {
	nowMs := toMillis(now)
	row := l.s.db.QueryRowContext(ctx, `
		insert into record_locks (module, record_type, record_id, holder, acquired_at_ms, expires_at_ms)
		values (?1, ?2, ?3, ?4, ?5, ?6)
		on conflict (module, record_type, record_id) do update
		set holder = excluded.holder,
		    acquired_at_ms = case
		        when record_locks.holder = excluded.holder and record_locks.expires_at_ms > ?5
		        then record_locks.acquired_at_ms
		        else excluded.acquired_at_ms
		    end,
		    expires_at_ms = excluded.expires_at_ms
		where record_locks.holder = excluded.holder or record_locks.expires_at_ms <= ?5
		returning holder, acquired_at_ms, expires_at_ms`,
		key.Module, key.RecordType, key.RecordID, holder, nowMs, toMillis(expires))
	lock := reclock.Lock{Key: key}
	var acquiredMs, expiresMs int64
	err := row.Scan(&lock.Holder, &acquiredMs, &expiresMs)
	if err == nil {
		lock.AcquiredAt, lock.ExpiresAt = fromMillis(acquiredMs), fromMillis(expiresMs)
		return lock, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return reclock.Lock{}, false, err
	}
	row = l.s.db.QueryRowContext(ctx, `
		select holder, acquired_at_ms, expires_at_ms from record_locks
		where module = ?1 and record_type = ?2 and record_id = ?3 and expires_at_ms > ?4`,
		key.Module, key.RecordType, key.RecordID, nowMs)
	err = row.Scan(&lock.Holder, &acquiredMs, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return reclock.Lock{}, false, nil
	}
	if err != nil {
		return reclock.Lock{}, false, err
	}
	lock.AcquiredAt, lock.ExpiresAt = fromMillis(acquiredMs), fromMillis(expiresMs)
	return lock, false, nil
}

func (l *sqLocks) Release(ctx context.Context, key records.Key, holder string) (bool, error) {
	res, err := l.s.db.ExecContext(ctx, `
		delete from record_locks
		where module = ? and record_type = ? and record_id = ? and holder = ?`,
		key.Module, key.RecordType, key.RecordID, holder)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *sqLocks) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.s.db.ExecContext(ctx,
		`delete from record_locks where expires_at_ms <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Records exposes the versioned record store.
func (s *Store) Records() records.Store { return &sqRecords{s: s} }

type sqRecords struct {
	s *Store
}

func (r *sqRecords) Get(ctx context.Context, key records.Key) (records.Record, error) {
	return r.get(ctx, r.s.db.QueryRowContext, key)
}

type rowQuerier func(ctx context.Context, query string, args ...any) *sql.Row

func (r *sqRecords) get(ctx context.Context, queryRow rowQuerier, key records.Key) (records.Record, error) {
	row := queryRow(ctx, `
		select fiscal_year, entity_type, verified, fields, version, updated_by, updated_at_ms
		from business_records
		where module = ? and record_type = ? and record_id = ?`,
		key.Module, key.RecordType, key.RecordID)
	rec := records.Record{Key: key}
	var fields string
	var updatedMs int64
	err := row.Scan(&rec.FiscalYear, &rec.EntityType, &rec.Verified, &fields,
		&rec.Version, &rec.UpdatedBy, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, records.ErrNotFound
	}
	if err != nil {
		return records.Record{}, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return records.Record{}, fmt.Errorf("decode fields: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	rec.UpdatedAt = fromMillis(updatedMs)
	return rec, nil
}

func (r *sqRecords) Create(ctx context.Context, rec records.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = r.s.db.ExecContext(ctx, `
		insert into business_records
		  (module, record_type, record_id, fiscal_year, entity_type, verified, fields, version, updated_by, updated_at_ms)
		values (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		rec.Key.Module, rec.Key.RecordType, rec.Key.RecordID,
		rec.FiscalYear, rec.EntityType, rec.Verified, string(fields),
		rec.UpdatedBy, toMillis(updatedAt))
	if isUniqueViolation(err) {
		return records.ErrExists
	}
	return err
}

// CompareAndSwap merges the overlay inside a transaction. The pool's single
// connection plus the version predicate on the update keeps racing writers
// out; the loser sees zero affected rows.
func (r *sqRecords) CompareAndSwap(ctx context.Context, key records.Key, expectedVersion int64, fields map[string]string, updatedBy string) (records.Record, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return records.Record{}, err
	}
	defer tx.Rollback()

	rec, err := r.get(ctx, tx.QueryRowContext, key)
	if err != nil {
		return records.Record{}, err
	}
	if rec.Version != expectedVersion {
		return records.Record{}, records.ErrModified
	}
	merged := rec.CloneFields()
	for k, v := range fields {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return records.Record{}, fmt.Errorf("encode fields: %w", err)
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		update business_records
		set fields = ?, version = version + 1, updated_by = ?, updated_at_ms = ?
		where module = ? and record_type = ? and record_id = ? and version = ?`,
		string(encoded), updatedBy, toMillis(now),
		key.Module, key.RecordType, key.RecordID, expectedVersion)
	if err != nil {
		return records.Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return records.Record{}, err
	}
	if n == 0 {
		return records.Record{}, records.ErrModified
	}
	if err := tx.Commit(); err != nil {
		return records.Record{}, err
	}
	rec.Fields = merged
	rec.Version = expectedVersion + 1
	rec.UpdatedBy = updatedBy
	rec.UpdatedAt = now
	return rec, nil
}

func (r *sqRecords) MarkVerified(ctx context.Context, key records.Key, updatedBy string) (records.Record, error) {
	res, err := r.s.db.ExecContext(ctx, `
		update business_records
		set verified = 1, version = version + 1, updated_by = ?, updated_at_ms = ?
		where module = ? and record_type = ? and record_id = ?`,
		updatedBy, toMillis(time.Now().UTC()),
		key.Module, key.RecordType, key.RecordID)
	if err != nil {
		return records.Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return records.Record{}, err
	}
	if n == 0 {
		return records.Record{}, records.ErrNotFound
	}
	return r.Get(ctx, key)
}

// StagedEdits exposes the staged edit store.
func (s *Store) StagedEdits() staging.Store { return &sqStaging{s: s} }

type sqStaging struct {
	s *Store
}

func (p *sqStaging) Create(ctx context.Context, edit *staging.StagedEdit) error {
	original, err := json.Marshal(edit.Original)
	if err != nil {
		return fmt.Errorf("encode original: %w", err)
	}
	proposed, err := json.Marshal(edit.Proposed)
	if err != nil {
		return fmt.Errorf("encode proposed: %w", err)
	}
	_, err = p.s.db.ExecContext(ctx, `
		insert into staged_edits
		  (id, principal_id, module, record_type, record_id, base_version,
		   original, proposed, status, created_at_ms, updated_at_ms, conflicted_with, resolution)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edit.ID, edit.PrincipalID, edit.Key.Module, edit.Key.RecordType, edit.Key.RecordID,
		edit.BaseVersion, string(original), string(proposed), string(edit.Status),
		toMillis(edit.CreatedAt), toMillis(edit.UpdatedAt), edit.ConflictedWith, string(edit.Resolution))
	if isUniqueViolation(err) {
		return staging.ErrAlreadyStaged
	}
	return err
}

const stagingSelect = `
	select id, principal_id, module, record_type, record_id, base_version,
	       original, proposed, status, created_at_ms, updated_at_ms, conflicted_with, resolution
	from staged_edits`

func scanStagedEdit(row *sql.Row) (staging.StagedEdit, error) {
	var e staging.StagedEdit
	var original, proposed, status, resolution string
	var createdMs, updatedMs int64
	err := row.Scan(&e.ID, &e.PrincipalID, &e.Key.Module, &e.Key.RecordType, &e.Key.RecordID,
		&e.BaseVersion, &original, &proposed, &status, &createdMs, &updatedMs,
		&e.ConflictedWith, &resolution)
	if err != nil {
		return staging.StagedEdit{}, err
	}
	if err := json.Unmarshal([]byte(original), &e.Original); err != nil {
		return staging.StagedEdit{}, fmt.Errorf("decode original: %w", err)
	}
	if err := json.Unmarshal([]byte(proposed), &e.Proposed); err != nil {
		return staging.StagedEdit{}, fmt.Errorf("decode proposed: %w", err)
	}
	e.Status = staging.Status(status)
	e.Resolution = staging.Resolution(resolution)
	e.CreatedAt, e.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
	return e, nil
}

func (p *sqStaging) Get(ctx context.Context, id string) (staging.StagedEdit, error) {
	edit, err := scanStagedEdit(p.s.db.QueryRowContext(ctx, stagingSelect+` where id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return staging.StagedEdit{}, staging.ErrNotFound
	}
	return edit, err
}

func (p *sqStaging) FindPending(ctx context.Context, key records.Key, principalID string) (staging.StagedEdit, bool, error) {
	edit, err := scanStagedEdit(p.s.db.QueryRowContext(ctx, stagingSelect+`
		where module = ? and record_type = ? and record_id = ?
		  and principal_id = ? and status = ?`,
		key.Module, key.RecordType, key.RecordID, principalID, string(staging.StatusPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return staging.StagedEdit{}, false, nil
	}
	if err != nil {
		return staging.StagedEdit{}, false, err
	}
	return edit, true, nil
}

func (p *sqStaging) Transition(ctx context.Context, id string, expect staging.Status, update staging.TransitionUpdate) (staging.StagedEdit, error) {
	res, err := p.s.db.ExecContext(ctx, `
		update staged_edits
		set status = ?, conflicted_with = ?, resolution = ?, updated_at_ms = ?
		where id = ? and status = ?`,
		string(update.Status), update.ConflictedWith, string(update.Resolution),
		toMillis(update.UpdatedAt), id, string(expect))
	if err != nil {
		return staging.StagedEdit{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return staging.StagedEdit{}, err
	}
	if n == 0 {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return staging.StagedEdit{}, getErr
		}
		return staging.StagedEdit{}, fmt.Errorf("%w: edit %s is not %s", staging.ErrInvariant, id, expect)
	}
	return p.Get(ctx, id)
}

// Periods exposes the period lock store.
func (s *Store) Periods() period.Store { return &sqPeriods{s: s} }

type sqPeriods struct {
	s *Store
}

func (p *sqPeriods) Get(ctx context.Context, fiscalYear int, entityType string) (period.Status, error) {
	row := p.s.db.QueryRowContext(ctx, `
		select enabled, allow_list, locked_by, locked_at_ms, notes
		from period_locks
		where fiscal_year = ? and entity_type = ?`, fiscalYear, entityType)
	lock := period.Lock{FiscalYear: fiscalYear, EntityType: entityType}
	var allowList string
	var lockedMs int64
	err := row.Scan(&lock.Enabled, &allowList, &lock.LockedBy, &lockedMs, &lock.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return period.Status{Open: true}, nil
	}
	if err != nil {
		return period.Status{}, err
	}
	if err := json.Unmarshal([]byte(allowList), &lock.AllowList); err != nil {
		return period.Status{}, fmt.Errorf("decode allow list: %w", err)
	}
	lock.LockedAt = fromMillis(lockedMs)
	return period.Status{Lock: lock}, nil
}

func (p *sqPeriods) Upsert(ctx context.Context, lock period.Lock) error {
	allowList, err := json.Marshal(lock.AllowList)
	if err != nil {
		return fmt.Errorf("encode allow list: %w", err)
	}
	_, err = p.s.db.ExecContext(ctx, `
		insert into period_locks (fiscal_year, entity_type, enabled, allow_list, locked_by, locked_at_ms, notes)
		values (?, ?, ?, ?, ?, ?, ?)
		on conflict (fiscal_year, entity_type) do update
		set enabled = excluded.enabled,
		    allow_list = excluded.allow_list,
		    locked_by = excluded.locked_by,
		    locked_at_ms = excluded.locked_at_ms,
		    notes = excluded.notes`,
		lock.FiscalYear, lock.EntityType, lock.Enabled, string(allowList),
		lock.LockedBy, toMillis(lock.LockedAt), lock.Notes)
	return err
}

// Audit exposes the append-only audit store.
func (s *Store) Audit() audit.Store { return &sqAudit{s: s} }

type sqAudit struct {
	s *Store
}

func (a *sqAudit) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into audit_entries
		  (id, occurred_at_ms, principal_id, action, module, entity_type, entity_id,
		   before_state, after_state, success, error, request_id)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, toMillis(entry.OccurredAt), entry.PrincipalID, entry.Action,
		entry.Module, entry.EntityType, entry.EntityID,
		nullableText(entry.Before), nullableText(entry.After),
		entry.Success, entry.Error, entry.RequestID)
	return err
}

func nullableText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

const auditSelect = `
	select id, occurred_at_ms, principal_id, action, module, entity_type, entity_id,
	       before_state, after_state, success, error, request_id
	from audit_entries`

func (a *sqAudit) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, auditSelect+`
		where entity_type = ? and entity_id = ?
		order by occurred_at_ms desc, id desc limit ?`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func (a *sqAudit) ListByTime(ctx context.Context, from, to time.Time, limit int) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, auditSelect+`
		where occurred_at_ms >= ? and occurred_at_ms < ?
		order by occurred_at_ms desc, id desc limit ?`, toMillis(from), toMillis(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]audit.Entry, error) {
	entries := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		var occurredMs int64
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &occurredMs, &e.PrincipalID, &e.Action,
			&e.Module, &e.EntityType, &e.EntityID, &before, &after,
			&e.Success, &e.Error, &e.RequestID); err != nil {
			return nil, err
		}
		e.OccurredAt = fromMillis(occurredMs)
		if before.Valid {
			e.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			e.After = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
