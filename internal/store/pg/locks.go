package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
)

// Locks exposes the record lock store.
func (s *Store) Locks() reclock.Store { return &pgLocks{s: s} }

type pgLocks struct {
	s *Store
}

// Acquire takes or renews the lock in a single upsert. The conflict
// predicate only lets the update through when the existing row belongs
// to the same holder or is already expired, so two racing callers can
// never both win: exactly one statement matches, the other scans no row
// and reads back the live holder.
func (l *pgLocks) Acquire(ctx context.Context, key records.Key, holder string, now, expires time.Time) (reclock.Lock, bool, error) {
	var lock reclock.Lock
	var acquired bool
	err := l.s.withRetry(ctx, func() error {
		row := l.s.db.QueryRowContext(ctx, `
			insert into record_locks (module, record_type, record_id, holder, acquired_at, expires_at)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (module, record_type, record_id) do update
			set holder = excluded.holder,
			    acquired_at = case
			        when record_locks.holder = excluded.holder and record_locks.expires_at > $5
			        then record_locks.acquired_at
			        else excluded.acquired_at
			    end,
			    expires_at = excluded.expires_at
			where record_locks.holder = excluded.holder or record_locks.expires_at <= $5
			returning holder, acquired_at, expires_at`,
			key.Module, key.RecordType, key.RecordID, holder, now, expires)
		var got reclock.Lock
		got.Key = key
		err := row.Scan(&got.Holder, &got.AcquiredAt, &got.ExpiresAt)
		if err == nil {
			lock, acquired = got, true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		// Lost the race: read the live holder for the denial.
		row = l.s.db.QueryRowContext(ctx, `
			select holder, acquired_at, expires_at from record_locks
			where module = $1 and record_type = $2 and record_id = $3 and expires_at > $4`,
			key.Module, key.RecordType, key.RecordID, now)
		err = row.Scan(&got.Holder, &got.AcquiredAt, &got.ExpiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			// Holder released between statements; caller retries.
			lock, acquired = reclock.Lock{}, false
			return nil
		}
		if err != nil {
			return err
		}
		lock, acquired = got, false
		return nil
	})
	return lock, acquired, err
}

func (l *pgLocks) Release(ctx context.Context, key records.Key, holder string) (bool, error) {
	res, err := l.s.db.ExecContext(ctx, `
		delete from record_locks
		where module = $1 and record_type = $2 and record_id = $3 and holder = $4`,
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

func (l *pgLocks) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.s.db.ExecContext(ctx, `delete from record_locks where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
