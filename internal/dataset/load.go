package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/iabi/nlq/internal/storage"
)

// Format identifies a supported dataset file format.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatForPath resolves the dataset format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: unsupported dataset format %q", ErrDataSource, filepath.Ext(path))
	}
}

// Load reads the dataset at path and normalizes its column names.
func Load(ctx context.Context, path string) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %w", ErrDataSource, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: dataset %q is a directory", ErrDataSource, path)
	}
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	var raw *Table
	switch format {
	case FormatXLSX:
		raw, err = readXLSX(path)
	case FormatCSV:
		raw, err = readWithDuckDB(ctx, fmt.Sprintf("read_csv_auto(%s, header = true)", quoteString(path)))
	case FormatParquet:
		raw, err = readWithDuckDB(ctx, fmt.Sprintf("read_parquet(%s)", quoteString(path)))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s dataset %q: %w", ErrDataSource, format, path, err)
	}
	return finalize(raw), nil
}

// LoadObject downloads key into a temporary directory, loads it and removes the copy.
func LoadObject(ctx context.Context, store storage.ObjectStore, key string) (*Table, error) {
	dir, err := os.MkdirTemp("", "nlq-dataset-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", ErrDataSource, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	local, err := storage.Download(ctx, store, key, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: download %q: %w", ErrDataSource, key, err)
	}
	return Load(ctx, local)
}

func finalize(raw *Table) *Table {
	columns, indexes := normalizeColumns(raw.Columns)
	rows := make([][]Value, 0, len(raw.Rows))
	for _, source := range raw.Rows {
		row := make([]Value, len(indexes))
		for i, index := range indexes {
			if index < len(source) {
				row[i] = source[index].Coerce(columns[i].Kind)
			}
		}
		rows = append(rows, row)
	}
	return &Table{Columns: columns, Rows: rows}
}

func readWithDuckDB(ctx context.Context, tableFunction string) (*Table, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+tableFunction)
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	table := &Table{Columns: make([]Column, 0, len(columnTypes))}
	for _, columnType := range columnTypes {
		typeName := columnType.DatabaseTypeName()
		table.Columns = append(table.Columns, Column{
			Source: columnType.Name(),
			Type:   typeName,
			Kind:   KindForType(typeName),
		})
	}

	for rows.Next() {
		values := make([]any, len(columnTypes))
		scanTargets := make([]any, len(columnTypes))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]Value, len(values))
		for i, value := range values {
			row[i] = ValueOf(value)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return table, nil
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
