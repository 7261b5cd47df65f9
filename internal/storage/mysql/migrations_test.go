package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// recordingDriver accepts every statement and remembers applied versions.
type recordingDriver struct {
	mu        sync.Mutex
	execs     []string
	versions  []string
	checksums []string
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return recordingTx{}, nil }

func (c *recordingConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.execs = append(c.d.execs, query)
	if strings.HasPrefix(query, "INSERT INTO schema_migrations") && len(args) > 0 {
		c.d.versions = append(c.d.versions, args[0].Value.(string))
		c.d.checksums = append(c.d.checksums, args[2].Value.(string))
	}
	return driver.RowsAffected(1), nil
}

func (c *recordingConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return &versionRows{
		versions:  append([]string(nil), c.d.versions...),
		checksums: append([]string(nil), c.d.checksums...),
	}, nil
}

type recordingTx struct{}

func (recordingTx) Commit() error   { return nil }
func (recordingTx) Rollback() error { return nil }

type versionRows struct {
	versions  []string
	checksums []string
	pos       int
}

func (r *versionRows) Columns() []string { return []string{"version", "checksum"} }
func (r *versionRows) Close() error      { return nil }
func (r *versionRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.versions) {
		return io.EOF
	}
	dest[0] = r.versions[r.pos]
	dest[1] = r.checksums[r.pos]
	r.pos++
	return nil
}

var (
	registerOnce sync.Once
	fake         = &recordingDriver{}
)

func openFake(t *testing.T) *sql.DB {
	t.Helper()
	registerOnce.Do(func() { sql.Register("soloracle-recording", fake) })
	db, err := sql.Open("soloracle-recording", "")
	if err != nil {
		t.Fatalf("open fake db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateAppliesEmbeddedFilesOnce(t *testing.T) {
	db := openFake(t)
	ctx := context.Background()

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	fake.mu.Lock()
	versions := append([]string(nil), fake.versions...)
	firstRun := len(fake.execs)
	fake.mu.Unlock()

	if len(versions) != 2 || versions[0] != "0001" || versions[1] != "0002" {
		t.Fatalf("unexpected applied versions %v", versions)
	}

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	fake.mu.Lock()
	secondRun := len(fake.execs) - firstRun
	fake.mu.Unlock()
	if secondRun != 1 {
		t.Fatalf("expected only the bookkeeping table statement on rerun, got %d statements", secondRun)
	}
}

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migration order %+v", files)
	}
	if !strings.Contains(files[0].statements[0], "query_tasks") {
		t.Fatalf("expected first migration to create query_tasks, got %q", files[0].statements[0])
	}
}

func TestSplitSQLStatementsAndVersions(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (id INT);\n\n ALTER TABLE a ADD b INT ; ")
	if len(stmts) != 2 || stmts[1] != "ALTER TABLE a ADD b INT" {
		t.Fatalf("unexpected statements %q", stmts)
	}
	if v := parseMigrationVersion("0003_add_index.sql"); v != "0003" {
		t.Fatalf("unexpected version %q", v)
	}
	if v := parseMigrationVersion("0004.sql"); v != "0004" {
		t.Fatalf("unexpected version %q", v)
	}
}

func TestMigrateDetectsEditedMigration(t *testing.T) {
	db := openFake(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fake.mu.Lock()
	saved := append([]string(nil), fake.checksums...)
	fake.checksums[0] = strings.Repeat("0", 64)
	fake.mu.Unlock()
	defer func() {
		fake.mu.Lock()
		fake.checksums = saved
		fake.mu.Unlock()
	}()

	if err := Migrate(ctx, db); err == nil || !strings.Contains(err.Error(), "被修改") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestLoadMigrationFilesChecksums(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, f := range files {
		if len(f.checksum) != 64 {
			t.Fatalf("unexpected checksum %q for %s", f.checksum, f.name)
		}
	}
}

func TestParseDSNAddsDefaults(t *testing.T) {
	cfg, err := ParseDSN("oracle:secret@tcp(127.0.0.1:3306)/soloracle")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != "127.0.0.1:3306" || cfg.DBName != "soloracle" {
		t.Fatalf("unexpected dsn fields %+v", cfg)
	}
	if cfg.Timeout != DefaultDialTimeout || cfg.Params["charset"] != "utf8mb4" {
		t.Fatalf("defaults not applied: timeout=%s params=%v", cfg.Timeout, cfg.Params)
	}
	if _, err := ParseDSN("no-database-separator"); err == nil {
		t.Fatal("expected invalid dsn error")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "  "}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
