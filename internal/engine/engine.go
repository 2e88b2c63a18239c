package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/iabi/nlq/internal/dataset"
	"github.com/iabi/nlq/internal/journal"
	"github.com/iabi/nlq/internal/llm"
	"github.com/iabi/nlq/internal/nl2sql"
	"github.com/iabi/nlq/internal/observability"
	"github.com/iabi/nlq/internal/query"
	"github.com/iabi/nlq/internal/query/duckdb"
)

var (
	// ErrValidation covers every rejected candidate statement.
	ErrValidation       = errors.New("validation error")
	ErrNoStatement      = fmt.Errorf("%w: model produced no SQL statement", ErrValidation)
	ErrInvalidStatement = fmt.Errorf("%w: statement rejected", ErrValidation)

	ErrEmptyQuestion  = errors.New("question is required")
	ErrEmptyStatement = errors.New("sql is required")
)

type Config struct {
	// Open loads the dataset. It runs once, before anything else.
	Open       func(ctx context.Context) (*dataset.Table, error)
	TableName  string
	RowLimit   int
	LoadModel  func(ctx context.Context) (llm.Generator, error)
	Generation llm.Options
	Correction bool
	Journal    journal.Recorder
	Logger     *slog.Logger
}

// Record is the outcome of Ask or RunRaw. On validation failures SQL holds the
// rejected candidate and Rows is empty.
type Record struct {
	Question  string
	SQL       string
	Raw       string
	Columns   []string
	Rows      []query.Row
	RowCount  int
	Corrected bool
	Reason    string
	Duration  time.Duration
}

type Schema struct {
	Table   string                     `json:"table"`
	Rows    int                        `json:"rows"`
	Columns []dataset.ColumnDescriptor `json:"columns"`
}

type Info struct {
	Table string   `json:"table"`
	Rows  int      `json:"rows"`
	Model string   `json:"model"`
	Mode  llm.Mode `json:"mode"`
}

type Engine struct {
	table      *dataset.Table
	tableName  string
	columns    []dataset.ColumnDescriptor
	store      *duckdb.Store
	generator  llm.Generator
	translator *nl2sql.Translator
	journal    journal.Recorder
	logger     *slog.Logger
}

// New loads the dataset, profiles it, registers it with DuckDB and loads the
// model, in that order. Any failure returns a nil Engine.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Open == nil {
		return nil, fmt.Errorf("dataset opener is required")
	}
	if cfg.LoadModel == nil {
		return nil, fmt.Errorf("model loader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tableName := strings.TrimSpace(cfg.TableName)
	if tableName == "" {
		tableName = "tabela"
	}
	recorder := cfg.Journal
	if recorder == nil {
		recorder = journal.NewMemory(journal.DefaultMemorySize)
	}

	table, err := cfg.Open(ctx)
	if err != nil {
		if !errors.Is(err, dataset.ErrDataSource) {
			err = fmt.Errorf("%w: %w", dataset.ErrDataSource, err)
		}
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", slog.Int("rows", table.RowCount()), slog.Int("columns", len(table.Columns)))

	columns := dataset.Profile(table)

	store, err := duckdb.Open(ctx, table, tableName, duckdb.Options{RowLimit: cfg.RowLimit})
	if err != nil {
		return nil, fmt.Errorf("register table %q: %w", tableName, err)
	}
	logger.Info("table registered", slog.String("table", tableName))

	generator, err := cfg.LoadModel(ctx)
	if err != nil {
		_ = store.Close()
		if !errors.Is(err, llm.ErrModelLoad) {
			err = fmt.Errorf("%w: %w", llm.ErrModelLoad, err)
		}
		return nil, fmt.Errorf("load model: %w", err)
	}
	generator = llm.Serialize(generator)

	translator, err := nl2sql.NewTranslator(nl2sql.Config{
		Generator:  generator,
		Options:    cfg.Generation,
		Table:      tableName,
		Correction: cfg.Correction,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	_, mode := llm.Describe(generator)
	observability.SetEngineInfo(table.RowCount(), mode == llm.ModeAccelerated)

	return &Engine{
		table:      table,
		tableName:  tableName,
		columns:    columns,
		store:      store,
		generator:  generator,
		translator: translator,
		journal:    recorder,
		logger:     logger,
	}, nil
}

// Ask translates question into SQL, validates it and executes it.
func (e *Engine) Ask(ctx context.Context, question string) (Record, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Record{}, ErrEmptyQuestion
	}
	start := time.Now()
	record := Record{Question: question}
	e.logger.InfoContext(ctx, "question received", slog.String("question", question))

	translation, err := e.translator.Translate(ctx, question, e.columns)
	generationTime := time.Since(start)
	if translation.Attempts > 1 {
		observability.ObserveCorrection(translation.Corrected)
	}
	if err != nil {
		if !errors.Is(err, llm.ErrGeneration) {
			err = fmt.Errorf("%w: %w", llm.ErrGeneration, err)
		}
		observability.ObserveQuestion(observability.OutcomeGeneration, generationTime)
		return e.finish(ctx, journal.KindAsk, record, start, observability.OutcomeGeneration, false, err)
	}

	record.SQL = translation.SQL
	record.Raw = translation.Raw
	record.Corrected = translation.Corrected
	record.Reason = translation.Reason
	if !translation.Valid {
		outcome := observability.OutcomeInvalid
		err := fmt.Errorf("%w: %s", ErrInvalidStatement, translation.Reason)
		if translation.SQL == "" {
			outcome = observability.OutcomeNoSQL
			err = ErrNoStatement
		}
		observability.ObserveQuestion(outcome, generationTime)
		return e.finish(ctx, journal.KindAsk, record, start, outcome, false, err)
	}

	e.logger.InfoContext(ctx, "executing statement", slog.String("sql", record.SQL), slog.Bool("corrected", record.Corrected))
	result, err := e.store.Execute(ctx, record.SQL)
	if err != nil {
		observability.ObserveQuestion(observability.OutcomeQuery, generationTime)
		return e.finish(ctx, journal.KindAsk, record, start, observability.OutcomeQuery, true, err)
	}
	observability.ObserveExecution(len(result.Rows), result.Duration)
	observability.ObserveQuestion(observability.OutcomeOK, generationTime)
	record.Columns = result.Columns
	record.Rows = result.Rows
	record.RowCount = len(result.Rows)
	return e.finish(ctx, journal.KindAsk, record, start, observability.OutcomeOK, true, nil)
}

// RunRaw executes statement without validation.
func (e *Engine) RunRaw(ctx context.Context, statement string) (Record, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return Record{}, ErrEmptyStatement
	}
	start := time.Now()
	record := Record{SQL: statement}
	e.logger.WarnContext(ctx, "executing unvalidated statement", slog.String("sql", statement))

	result, err := e.store.Execute(ctx, statement)
	if err != nil {
		observability.ObserveRawQuery(observability.OutcomeQuery)
		return e.finish(ctx, journal.KindSQL, record, start, observability.OutcomeQuery, false, err)
	}
	observability.ObserveExecution(len(result.Rows), result.Duration)
	observability.ObserveRawQuery(observability.OutcomeOK)
	record.Columns = result.Columns
	record.Rows = result.Rows
	record.RowCount = len(result.Rows)
	return e.finish(ctx, journal.KindSQL, record, start, observability.OutcomeOK, false, nil)
}

func (e *Engine) finish(ctx context.Context, kind journal.Kind, record Record, start time.Time, outcome string, valid bool, err error) (Record, error) {
	record.Duration = time.Since(start)
	entry := journal.Entry{
		Kind:       kind,
		Question:   record.Question,
		SQL:        record.SQL,
		Valid:      valid,
		Corrected:  record.Corrected,
		RowCount:   record.RowCount,
		Outcome:    outcome,
		DurationMs: record.Duration.Milliseconds(),
		TraceID:    observability.TraceIDFromContext(ctx),
	}
	if err != nil {
		entry.Error = err.Error()
		e.logger.WarnContext(ctx, "request failed", slog.String("outcome", outcome), slog.String("sql", record.SQL), slog.Any("error", err))
	} else {
		e.logger.InfoContext(ctx, "request completed", slog.String("sql", record.SQL), slog.Int("rows", record.RowCount), slog.Duration("duration", record.Duration))
	}
	if _, journalErr := e.journal.Record(context.WithoutCancel(ctx), entry); journalErr != nil {
		e.logger.ErrorContext(ctx, "journal write failed", slog.Any("error", journalErr))
	}
	return record, err
}

func (e *Engine) Schema() Schema {
	return Schema{Table: e.tableName, Rows: e.table.RowCount(), Columns: e.columns}
}

func (e *Engine) Info() Info {
	name, mode := llm.Describe(e.generator)
	return Info{Table: e.tableName, Rows: e.table.RowCount(), Model: name, Mode: mode}
}

func (e *Engine) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	return e.journal.Recent(ctx, limit)
}

// Ready checks the query store and the journal.
func (e *Engine) Ready(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("query store: %w", err)
	}
	if err := e.journal.HealthCheck(ctx); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	return e.store.Close()
}
