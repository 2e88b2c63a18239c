package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/iabi/nlq/internal/dataset"
	"github.com/iabi/nlq/internal/query"
)

// sourceCatalog names the database file, so qualified references read as
// nlq_source.<table>.
const sourceCatalog = "nlq_source"

type Options struct {
	// RowLimit caps returned rows when positive.
	RowLimit int
}

var _ query.Store = (*Store)(nil)

// Store serves read queries over one registered dataset table.
type Store struct {
	connector *duckdb.Connector
	db        *sql.DB
	dir       string
	table     string
	rowLimit  int
}

// Open writes table under name into a private DuckDB file and reopens that file
// read-only. Every statement, raw SQL included, sees exactly the loaded rows.
func Open(ctx context.Context, table *dataset.Table, name string, opts Options) (*Store, error) {
	if table == nil || len(table.Columns) == 0 {
		return nil, fmt.Errorf("dataset has no columns")
	}
	if !dataset.IsValidName(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}

	dir, err := os.MkdirTemp("", "nlq-duckdb-*")
	if err != nil {
		return nil, fmt.Errorf("create duckdb dir: %w", err)
	}
	path := filepath.Join(dir, sourceCatalog+".duckdb")
	if err := build(ctx, path, table, name); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	connector, err := duckdb.NewConnector(path+"?access_mode=read_only", nil)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("open duckdb read-only: %w", err)
	}
	store := &Store{
		connector: connector,
		db:        sql.OpenDB(connector),
		dir:       dir,
		table:     name,
		rowLimit:  opts.RowLimit,
	}
	// Temp objects and USE live on a connection; none outlive a statement.
	store.db.SetMaxIdleConns(0)
	if err := store.db.PingContext(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open duckdb read-only: %w", err)
	}
	return store, nil
}

// build creates the table in a writable database at path and appends every
// row. The database is closed before returning.
func build(ctx context.Context, path string, table *dataset.Table, name string) (err error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return fmt.Errorf("create duckdb file: %w", err)
	}
	db := sql.OpenDB(connector)
	defer func() {
		if closeErr := errors.Join(db.Close(), connector.Close()); closeErr != nil && err == nil {
			err = fmt.Errorf("close duckdb file: %w", closeErr)
		}
	}()

	columnDefs := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		columnDefs = append(columnDefs, quoteIdent(column.Name)+" "+dataset.StorageType(column.Kind))
	}
	ddl := fmt.Sprintf(`CREATE TABLE main.%s (%s)`, quoteIdent(name), strings.Join(columnDefs, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		appender, err := duckdb.NewAppenderFromConn(driverConn.(driver.Conn), "main", name)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		for i, row := range table.Rows {
			values := make([]driver.Value, len(table.Columns))
			for j, column := range table.Columns {
				if j < len(row) {
					values[j] = row[j].Coerce(column.Kind).Any()
				}
			}
			if err := appender.AppendRow(values...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush appender: %w", err)
		}
		return nil
	})
}

func (s *Store) TableName() string {
	return s.table
}

// Execute runs statement and returns every row. Statements are not filtered here.
func (s *Store) Execute(ctx context.Context, statement string) (query.Result, error) {
	sqlText := stripTrailingSemicolons(statement)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("%w: sql is required", query.ErrQuery)
	}
	if s.rowLimit > 0 && isQuery(sqlText) {
		// The closing parenthesis sits on its own line so a trailing -- comment
		// cannot swallow it.
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, s.rowLimit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("%w: execute query: %w", query.ErrQuery, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("%w: query columns: %w", query.ErrQuery, err)
	}

	resultRows := make([]query.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("%w: scan row: %w", query.ErrQuery, err)
		}
		resultRows = append(resultRows, query.NewRow(columns, normalizeValues(values)))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("%w: iterate rows: %w", query.ErrQuery, err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return errors.Join(s.db.Close(), s.connector.Close(), os.RemoveAll(s.dir))
}

func normalizeValues(values []any) []dataset.Value {
	normalized := make([]dataset.Value, len(values))
	for i, value := range values {
		normalized[i] = dataset.ValueOf(value)
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// isQuery reports whether statement can be wrapped as a subquery. DESCRIBE,
// SHOW, PRAGMA and similar statements run unwrapped.
func isQuery(statement string) bool {
	fields := strings.Fields(strings.TrimLeft(statement, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "FROM", "VALUES", "TABLE":
		return true
	}
	return false
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
