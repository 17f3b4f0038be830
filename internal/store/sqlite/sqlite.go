// Package sqlite backs the coordination stores with an embedded SQLite
// database for single-host deployments. The pool is pinned to one
// connection, so multi-statement operations are serialised by the driver
// and the same conditional-write discipline as the Postgres store holds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store implements every coordination store interface over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating when absent) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "./data/charterops.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	// Single connection keeps writes serialised and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const schema = `
create table if not exists accounts (
  id            text primary key,
  name          text not null,
  email         text not null unique,
  password_hash text not null,
  status        text not null,
  created_at_ms integer not null,
  updated_at_ms integer not null
);

create table if not exists roles (
  id            text primary key,
  name          text not null unique,
  description   text not null default '',
  created_at_ms integer not null,
  updated_at_ms integer not null
);

create table if not exists role_permissions (
  role_id text not null references roles(id) on delete cascade,
  module  text not null,
  action  text not null,
  primary key (role_id, module, action)
);

create table if not exists account_roles (
  account_id text not null references accounts(id) on delete cascade,
  role_id    text not null references roles(id) on delete cascade,
  primary key (account_id, role_id)
);

create table if not exists account_scopes (
  account_id  text not null references accounts(id) on delete cascade,
  scope_type  text not null,
  scope_value text not null,
  primary key (account_id, scope_type, scope_value)
);

create table if not exists business_records (
  module        text not null,
  record_type   text not null,
  record_id     text not null,
  fiscal_year   integer not null,
  entity_type   text not null,
  verified      integer not null default 0,
  fields        text not null default '{}',
  version       integer not null default 1,
  updated_by    text not null default '',
  updated_at_ms integer not null,
  primary key (module, record_type, record_id)
);

create table if not exists record_locks (
  module         text not null,
  record_type    text not null,
  record_id      text not null,
  holder         text not null,
  acquired_at_ms integer not null,
  expires_at_ms  integer not null,
  primary key (module, record_type, record_id)
);

create table if not exists staged_edits (
  id              text primary key,
  principal_id    text not null,
  module          text not null,
  record_type     text not null,
  record_id       text not null,
  base_version    integer not null,
  original        text not null,
  proposed        text not null,
  status          text not null,
  created_at_ms   integer not null,
  updated_at_ms   integer not null,
  conflicted_with text not null default '',
  resolution      text not null default ''
);

create unique index if not exists staged_edits_pending
  on staged_edits (module, record_type, record_id, principal_id)
  where status = 'pending';

create table if not exists period_locks (
  fiscal_year  integer not null,
  entity_type  text not null,
  enabled      integer not null,
  allow_list   text not null default '[]',
  locked_by    text not null default '',
  locked_at_ms integer not null,
  notes        text not null default '',
  primary key (fiscal_year, entity_type)
);

create table if not exists audit_entries (
  id             text primary key,
  occurred_at_ms integer not null,
  principal_id   text not null,
  action         text not null,
  module         text not null default '',
  entity_type    text not null,
  entity_id      text not null,
  before_state   text,
  after_state    text,
  success        integer not null,
  error          text not null default '',
  request_id     text not null default ''
);

create index if not exists audit_entries_entity
  on audit_entries (entity_type, entity_id, occurred_at_ms);
create index if not exists audit_entries_time
  on audit_entries (occurred_at_ms);
`

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
