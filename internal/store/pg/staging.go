package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"charterops.org/internal/records"
	"charterops.org/internal/staging"
)

// StagedEdits exposes the staged edit store.
func (s *Store) StagedEdits() staging.Store { return &pgStaging{s: s} }

type pgStaging struct {
	s *Store
}

const stagingColumns = `id, principal_id, module, record_type, record_id, base_version, original, proposed, status, created_at, updated_at, conflicted_with, resolution`

func (p *pgStaging) Create(ctx context.Context, edit *staging.StagedEdit) error {
	original, err := json.Marshal(edit.Original)
	if err != nil {
		return fmt.Errorf("encode original: %w", err)
	}
	proposed, err := json.Marshal(edit.Proposed)
	if err != nil {
		return fmt.Errorf("encode proposed: %w", err)
	}
	_, err = p.s.db.ExecContext(ctx, `
		insert into staged_edits (`+stagingColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		edit.ID, edit.PrincipalID, edit.Key.Module, edit.Key.RecordType, edit.Key.RecordID,
		edit.BaseVersion, original, proposed, string(edit.Status),
		edit.CreatedAt, edit.UpdatedAt, edit.ConflictedWith, string(edit.Resolution))
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return staging.ErrAlreadyStaged
	}
	return err
}

func scanEdit(scan func(dest ...any) error) (staging.StagedEdit, error) {
	var e staging.StagedEdit
	var original, proposed []byte
	var status, resolution string
	var conflictedWith sql.NullString
	err := scan(&e.ID, &e.PrincipalID, &e.Key.Module, &e.Key.RecordType, &e.Key.RecordID,
		&e.BaseVersion, &original, &proposed, &status,
		&e.CreatedAt, &e.UpdatedAt, &conflictedWith, &resolution)
	if err != nil {
		return staging.StagedEdit{}, err
	}
	if err := json.Unmarshal(original, &e.Original); err != nil {
		return staging.StagedEdit{}, fmt.Errorf("decode original: %w", err)
	}
	if err := json.Unmarshal(proposed, &e.Proposed); err != nil {
		return staging.StagedEdit{}, fmt.Errorf("decode proposed: %w", err)
	}
	e.Status = staging.Status(status)
	e.Resolution = staging.Resolution(resolution)
	e.ConflictedWith = conflictedWith.String
	return e, nil
}

func (p *pgStaging) Get(ctx context.Context, id string) (staging.StagedEdit, error) {
	row := p.s.db.QueryRowContext(ctx, `
		select `+stagingColumns+` from staged_edits where id = $1`, id)
	edit, err := scanEdit(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return staging.StagedEdit{}, staging.ErrNotFound
	}
	return edit, err
}

func (p *pgStaging) FindPending(ctx context.Context, key records.Key, principalID string) (staging.StagedEdit, bool, error) {
	row := p.s.db.QueryRowContext(ctx, `
		select `+stagingColumns+` from staged_edits
		where module = $1 and record_type = $2 and record_id = $3
		  and principal_id = $4 and status = $5`,
		key.Module, key.RecordType, key.RecordID, principalID, string(staging.StatusPending))
	edit, err := scanEdit(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return staging.StagedEdit{}, false, nil
	}
	if err != nil {
		return staging.StagedEdit{}, false, err
	}
	return edit, true, nil
}

// Transition moves the edit out of expect in one guarded update. A missed
// scan is disambiguated with a follow-up read: absent row means not found,
// present row means the status already moved.
func (p *pgStaging) Transition(ctx context.Context, id string, expect staging.Status, update staging.TransitionUpdate) (staging.StagedEdit, error) {
	var edit staging.StagedEdit
	err := p.s.withRetry(ctx, func() error {
		row := p.s.db.QueryRowContext(ctx, `
			update staged_edits
			set status = $3, conflicted_with = $4, resolution = $5, updated_at = $6
			where id = $1 and status = $2
			returning `+stagingColumns,
			id, string(expect), string(update.Status), update.ConflictedWith,
			string(update.Resolution), update.UpdatedAt)
		got, scanErr := scanEdit(row.Scan)
		if scanErr == nil {
			edit = got
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: edit %s is not %s", staging.ErrInvariant, id, expect)
	})
	if err != nil {
		return staging.StagedEdit{}, err
	}
	return edit, nil
}
