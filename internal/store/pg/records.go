package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"charterops.org/internal/records"
)

// Records exposes the versioned record store.
func (s *Store) Records() records.Store { return &pgRecords{s: s} }

type pgRecords struct {
	s *Store
}

func scanRecord(row *sql.Row) (records.Record, error) {
	var rec records.Record
	var fields []byte
	err := row.Scan(&rec.Key.Module, &rec.Key.RecordType, &rec.Key.RecordID,
		&rec.FiscalYear, &rec.EntityType, &rec.Verified, &fields,
		&rec.Version, &rec.UpdatedBy, &rec.UpdatedAt)
	if err != nil {
		return records.Record{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return records.Record{}, fmt.Errorf("decode fields: %w", err)
		}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	return rec, nil
}

const recordColumns = `module, record_type, record_id, fiscal_year, entity_type, verified, fields, version, updated_by, updated_at`

func (r *pgRecords) Get(ctx context.Context, key records.Key) (records.Record, error) {
	row := r.s.db.QueryRowContext(ctx, `
		select `+recordColumns+` from business_records
		where module = $1 and record_type = $2 and record_id = $3`,
		key.Module, key.RecordType, key.RecordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, records.ErrNotFound
	}
	return rec, err
}

func (r *pgRecords) Create(ctx context.Context, rec records.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = r.s.db.ExecContext(ctx, `
		insert into business_records (`+recordColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`,
		rec.Key.Module, rec.Key.RecordType, rec.Key.RecordID,
		rec.FiscalYear, rec.EntityType, rec.Verified, fields,
		rec.UpdatedBy, updatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return records.ErrExists
	}
	return err
}

// CompareAndSwap overlays fields and bumps the version in one statement;
// the version predicate makes the whole read-modify-write atomic, so a
// failed scan means either a concurrent writer got there first or the
// record does not exist, and one follow-up read tells the two apart.
func (r *pgRecords) CompareAndSwap(ctx context.Context, key records.Key, expectedVersion int64, fields map[string]string, updatedBy string) (records.Record, error) {
	overlay, err := json.Marshal(fields)
	if err != nil {
		return records.Record{}, fmt.Errorf("encode fields: %w", err)
	}
	var rec records.Record
	err = r.s.withRetry(ctx, func() error {
		row := r.s.db.QueryRowContext(ctx, `
			update business_records
			set fields = fields || $5::jsonb,
			    version = version + 1,
			    updated_by = $6,
			    updated_at = now()
			where module = $1 and record_type = $2 and record_id = $3 and version = $4
			returning `+recordColumns,
			key.Module, key.RecordType, key.RecordID, expectedVersion, overlay, updatedBy)
		got, scanErr := scanRecord(row)
		if scanErr == nil {
			rec = got
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}
		if _, getErr := r.Get(ctx, key); getErr != nil {
			return getErr
		}
		return records.ErrModified
	})
	if err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

func (r *pgRecords) MarkVerified(ctx context.Context, key records.Key, updatedBy string) (records.Record, error) {
	row := r.s.db.QueryRowContext(ctx, `
		update business_records
		set verified = true, version = version + 1, updated_by = $4, updated_at = now()
		where module = $1 and record_type = $2 and record_id = $3
		returning `+recordColumns,
		key.Module, key.RecordType, key.RecordID, updatedBy)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, records.ErrNotFound
	}
	return rec, err
}
