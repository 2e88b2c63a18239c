package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iabi/nlq/internal/journal"
)

const maxRecent = 1000

// Repository stores journal entries in nlq_query_journal.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping journal db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry journal.Entry) (journal.Entry, error) {
	query := `
INSERT INTO nlq_query_journal (kind, question, sql_text, valid, corrected, row_count, outcome, error_text, duration_ms, trace_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING entry_id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		string(entry.Kind),
		entry.Question,
		entry.SQL,
		entry.Valid,
		entry.Corrected,
		entry.RowCount,
		entry.Outcome,
		nullableString(entry.Error),
		entry.DurationMs,
		nullableString(entry.TraceID),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	query := `
SELECT entry_id, kind, question, sql_text, valid, corrected, row_count, outcome, error_text, duration_ms, trace_id, created_at
FROM nlq_query_journal
ORDER BY entry_id DESC
LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]journal.Entry, 0)
	for rows.Next() {
		var (
			entry     journal.Entry
			kind      string
			errorText sql.NullString
			traceID   sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&kind,
			&entry.Question,
			&entry.SQL,
			&entry.Valid,
			&entry.Corrected,
			&entry.RowCount,
			&entry.Outcome,
			&errorText,
			&entry.DurationMs,
			&traceID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Kind = journal.Kind(kind)
		entry.Error = errorText.String
		entry.TraceID = traceID.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
