package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"charterops.org/internal/period"
)

// Periods exposes the period lock store.
func (s *Store) Periods() period.Store { return &pgPeriods{s: s} }

type pgPeriods struct {
	s *Store
}

func (p *pgPeriods) Get(ctx context.Context, fiscalYear int, entityType string) (period.Status, error) {
	row := p.s.db.QueryRowContext(ctx, `
		select fiscal_year, entity_type, enabled, allow_list, locked_by, locked_at, notes
		from period_locks
		where fiscal_year = $1 and entity_type = $2`, fiscalYear, entityType)
	var lock period.Lock
	var allowList []byte
	var notes sql.NullString
	err := row.Scan(&lock.FiscalYear, &lock.EntityType, &lock.Enabled,
		&allowList, &lock.LockedBy, &lock.LockedAt, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return period.Status{Open: true}, nil
	}
	if err != nil {
		return period.Status{}, err
	}
	if len(allowList) > 0 {
		if err := json.Unmarshal(allowList, &lock.AllowList); err != nil {
			return period.Status{}, fmt.Errorf("decode allow list: %w", err)
		}
	}
	lock.Notes = notes.String
	return period.Status{Lock: lock}, nil
}

func (p *pgPeriods) Upsert(ctx context.Context, lock period.Lock) error {
	allowList, err := json.Marshal(lock.AllowList)
	if err != nil {
		return fmt.Errorf("encode allow list: %w", err)
	}
	_, err = p.s.db.ExecContext(ctx, `
		insert into period_locks (fiscal_year, entity_type, enabled, allow_list, locked_by, locked_at, notes)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (fiscal_year, entity_type) do update
		set enabled = excluded.enabled,
		    allow_list = excluded.allow_list,
		    locked_by = excluded.locked_by,
		    locked_at = excluded.locked_at,
		    notes = excluded.notes`,
		lock.FiscalYear, lock.EntityType, lock.Enabled, allowList,
		lock.LockedBy, lock.LockedAt, lock.Notes)
	return err
}
