package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `
create table record_locks (module text not null);
insert into roles (name, description) values ('auditor', 'read; only');
create index record_locks_expiry on record_locks (module);
`
	stmts := splitStatements(script)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements, want 3: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'read; only'") {
		t.Fatalf("semicolon inside string split: %q", stmts[1])
	}
	if !strings.HasSuffix(strings.TrimSpace(stmts[2]), ";") {
		t.Fatalf("statement lost terminator: %q", stmts[2])
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements("delete from record_locks where expires_at <= now()")
	if len(stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(stmts))
	}
}

func TestSqlFilesSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_records.up.sql", "0001_access.up.sql", "0001_access.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := sqlFiles(dir, ".up.sql")
	if err != nil {
		t.Fatalf("sqlFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].name != "0001_access.up.sql" || files[1].name != "0002_records.up.sql" {
		t.Fatalf("order = %v", files)
	}
}

func TestSqlFilesMissingDir(t *testing.T) {
	files, err := sqlFiles(filepath.Join(t.TempDir(), "absent"), ".up.sql")
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("got %d files from missing dir", len(files))
	}
	files, err = sqlFiles("", ".up.sql")
	if err != nil || files != nil {
		t.Fatalf("empty dir arg: files=%v err=%v", files, err)
	}
}
