package migrations

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/README.md":           {Data: []byte("ignored")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 || items[0].Name != "one" {
		t.Fatalf("unexpected migration order: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmbeddedJournalMigration(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) == 0 || items[0].Name != "create_query_journal" {
		t.Fatalf("items = %+v", items)
	}
	for _, snippet := range []string{
		"CREATE TABLE nlq_query_journal",
		"entry_id BIGSERIAL PRIMARY KEY",
		"sql_text TEXT",
		"nlq_query_journal_created_at_idx",
	} {
		if !strings.Contains(items[0].UpSQL, snippet) {
			t.Fatalf("up migration missing %q", snippet)
		}
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS nlq_query_journal") {
		t.Fatalf("down migration = %q", items[0].DownSQL)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "conflicting names") {
		t.Fatalf("unexpected error: %v", err)
	}
}

var twoMigrations = fstest.MapFS{
	"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INT)")},
	"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one")},
	"sql/000002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INT)")},
	"sql/000002_two.down.sql": {Data: []byte("DROP TABLE two")},
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectLockedRead(mock sqlmock.Sqlmock, applied ...int64) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).
		WithArgs(advisoryLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectRead(mock, applied...)
}

func expectRead(mock sqlmock.Sqlmock, applied ...int64) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS nlq_schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"version"})
	for _, version := range applied {
		rows.AddRow(version)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM nlq_schema_migrations")).WillReturnRows(rows)
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(advisoryLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingMigrations(t *testing.T) {
	db, mock := newMock(t)
	expectLockedRead(mock, 1)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE two (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO nlq_schema_migrations (version, name) VALUES ($1, $2)")).
		WithArgs(int64(2), "two").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	applied, err := NewRunnerFS(twoMigrations).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpStopsAfterFailedScript(t *testing.T) {
	db, mock := newMock(t)
	expectLockedRead(mock)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE one (id INT)")).
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	expectUnlock(mock)

	applied, err := NewRunnerFS(twoMigrations).Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "000001_one") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied = %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	db, mock := newMock(t)
	expectLockedRead(mock, 1, 2)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE two")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM nlq_schema_migrations WHERE version = $1")).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	rolledBack, err := NewRunnerFS(twoMigrations).Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolledBack = %d", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDownRejectsUnknownAppliedVersion(t *testing.T) {
	db, mock := newMock(t)
	expectLockedRead(mock, 1, 9)
	expectUnlock(mock)

	if _, err := NewRunnerFS(twoMigrations).Down(context.Background(), db, 1); err == nil || !strings.Contains(err.Error(), "missing from source") {
		t.Fatalf("Down() error = %v", err)
	}
}

func TestStatusReportsAppliedVersions(t *testing.T) {
	db, mock := newMock(t)
	expectRead(mock)

	statuses, err := NewRunner().Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 1 || statuses[0].Applied || statuses[0].Version != 1 {
		t.Fatalf("statuses = %+v", statuses)
	}
}
