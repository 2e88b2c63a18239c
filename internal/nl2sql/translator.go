package nl2sql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/iabi/nlq/internal/dataset"
	"github.com/iabi/nlq/internal/llm"
)

// State is a step of the generate, validate and correct cycle.
type State string

const (
	StateGenerated   State = "generated"
	StateValidated   State = "validated"
	StateCorrecting  State = "correcting"
	StateRevalidated State = "revalidated"
	StateDone        State = "done"
)

// Translation is the outcome of one question. When Valid is false, SQL holds the
// original candidate (possibly empty) and must not be executed unchecked.
type Translation struct {
	Raw       string
	SQL       string
	Found     bool
	Valid     bool
	Reason    string
	Corrected bool
	Attempts  int
	State     State
}

type Config struct {
	Generator  llm.Generator
	Options    llm.Options
	Table      string
	Correction bool
	Logger     *slog.Logger
}

type Translator struct {
	generator  llm.Generator
	options    llm.Options
	table      string
	correction bool
	logger     *slog.Logger
}

func NewTranslator(cfg Config) (*Translator, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("table name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Translator{
		generator:  cfg.Generator,
		options:    cfg.Options,
		table:      cfg.Table,
		correction: cfg.Correction,
		logger:     logger,
	}, nil
}

// Translate turns question into a candidate statement. At most one correction
// round is attempted; a corrected candidate replaces the original only when it
// validates.
func (t *Translator) Translate(ctx context.Context, question string, columns []dataset.ColumnDescriptor) (Translation, error) {
	prompt := BuildPrompt(question, columns, t.table)
	raw, err := t.generate(ctx, prompt)
	if err != nil {
		return Translation{State: StateGenerated, Attempts: 1}, err
	}
	statement, found := Extract(raw)
	verdict := Validate(statement, found)
	result := Translation{
		Raw:      raw,
		SQL:      verdict.Statement,
		Found:    found,
		Valid:    verdict.Valid,
		Reason:   verdict.Reason,
		Attempts: 1,
		State:    StateValidated,
	}
	t.logger.Debug("candidate validated",
		slog.String("sql", result.SQL),
		slog.Bool("found", found),
		slog.Bool("valid", verdict.Valid),
		slog.String("reason", verdict.Reason),
	)
	if verdict.Valid || !t.correction {
		result.State = StateDone
		return result, nil
	}

	result.State = StateCorrecting
	rejected := verdict.Statement
	if !found {
		rejected = raw
	}
	correctedRaw, err := t.generate(ctx, BuildCorrectionPrompt(rejected, columns, t.table))
	result.Attempts++
	if err != nil {
		return result, err
	}
	correctedStatement, correctedFound := Extract(correctedRaw)
	correctedVerdict := Validate(correctedStatement, correctedFound)
	result.State = StateRevalidated
	t.logger.Debug("correction validated",
		slog.String("sql", correctedVerdict.Statement),
		slog.Bool("valid", correctedVerdict.Valid),
		slog.String("reason", correctedVerdict.Reason),
	)
	if correctedVerdict.Valid {
		result.Raw = correctedRaw
		result.SQL = correctedVerdict.Statement
		result.Found = true
		result.Valid = true
		result.Reason = ""
		result.Corrected = true
	}
	result.State = StateDone
	return result, nil
}

func (t *Translator) generate(ctx context.Context, prompt string) (string, error) {
	t.logger.Debug("generation started", slog.Int("prompt_bytes", len(prompt)))
	text, err := llm.Collect(t.generator.Stream(ctx, prompt, t.options))
	if err != nil {
		return "", err
	}
	t.logger.Debug("generation finished", slog.String("text", text))
	return text, nil
}
