package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "nlq_schema_migrations"
	// advisoryLockKey serializes concurrent runners against one journal database.
	advisoryLockKey int64 = 0x6e6c716a726e6c
)

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Runner applies the journal schema migrations in version order.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// NewRunnerFS reads migrations from the sql directory of fsys.
func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type Status struct {
	Version int64
	Name    string
	Applied bool
}

// Up applies pending migrations, at most steps of them when steps is positive.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	return r.locked(ctx, db, func(conn *sql.Conn, known []migration, applied map[int64]bool) (int, error) {
		done := 0
		for _, item := range known {
			if applied[item.Version] {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			record := `INSERT INTO ` + migrationTable + ` (version, name) VALUES ($1, $2)`
			if err := runInTx(ctx, conn, item.UpSQL, record, item.Version, item.Name); err != nil {
				return done, fmt.Errorf("apply %06d_%s: %w", item.Version, item.Name, err)
			}
			done++
		}
		return done, nil
	})
}

// Down rolls back the newest applied migrations, one when steps is not positive.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	return r.locked(ctx, db, func(conn *sql.Conn, known []migration, applied map[int64]bool) (int, error) {
		for version := range applied {
			if !slices.ContainsFunc(known, func(m migration) bool { return m.Version == version }) {
				return 0, fmt.Errorf("applied migration %d is missing from source", version)
			}
		}
		done := 0
		for _, item := range slices.Backward(known) {
			if done == steps {
				break
			}
			if !applied[item.Version] {
				continue
			}
			forget := `DELETE FROM ` + migrationTable + ` WHERE version = $1`
			if err := runInTx(ctx, conn, item.DownSQL, forget, item.Version); err != nil {
				return done, fmt.Errorf("roll back %06d_%s: %w", item.Version, item.Name, err)
			}
			done++
		}
		return done, nil
	})
}

// Status lists every known migration and whether it has been applied.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(known))
	for i, item := range known {
		out[i] = Status{Version: item.Version, Name: item.Name, Applied: applied[item.Version]}
	}
	return out, nil
}

func (r *Runner) locked(ctx context.Context, db *sql.DB, run func(*sql.Conn, []migration, map[int64]bool) (int, error)) (int, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return 0, fmt.Errorf("lock %s: %w", migrationTable, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	}()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return 0, err
	}
	return run(conn, known, applied)
}

// appliedVersions creates the bookkeeping table when missing.
func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	ddl := `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create %s: %w", migrationTable, err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationTable, err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func runInTx(ctx context.Context, conn *sql.Conn, script, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("update %s: %w", migrationTable, err)
	}
	return tx.Commit()
}

// loadMigrations pairs sql/NNNNNN_name.up.sql with its .down.sql and sorts by
// version. Other files in sql/ are ignored.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		parts := fileNamePattern.FindStringSubmatch(path.Base(name))
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %q: %w", name, err)
		}
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		} else if item.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, parts[2])
		}
		if parts[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
