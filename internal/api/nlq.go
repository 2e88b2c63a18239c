package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iabi/nlq/internal/engine"
	"github.com/iabi/nlq/internal/query"
)

const (
	maxRequestBytes     = 1 << 20
	defaultHistoryLimit = 20
)

type askRequest struct {
	Question string `json:"pergunta"`
}

type askResponse struct {
	SQL       string      `json:"sql"`
	Rows      []query.Row `json:"dados"`
	RowCount  int         `json:"total_linhas"`
	Corrected bool        `json:"corrigido"`
}

type rawRequest struct {
	SQL string `json:"sql"`
}

type rawResponse struct {
	SQL  string      `json:"sql"`
	Rows []query.Row `json:"dados"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "engine is not initialized", nil)
		return
	}
	var request askRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "pergunta é obrigatória", nil)
		return
	}

	record, err := deps.Engine.Ask(r.Context(), request.Question)
	if err != nil {
		writeEngineError(w, r, record, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		SQL:       record.SQL,
		Rows:      nonNilRows(record.Rows),
		RowCount:  record.RowCount,
		Corrected: record.Corrected,
	})
}

func handleRawSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "engine is not initialized", nil)
		return
	}
	var request rawRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "sql é obrigatório", nil)
		return
	}

	record, err := deps.Engine.RunRaw(r.Context(), request.SQL)
	if err != nil {
		writeEngineError(w, r, record, err)
		return
	}
	writeJSON(w, http.StatusOK, rawResponse{SQL: record.SQL, Rows: nonNilRows(record.Rows)})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "engine is not initialized", nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Engine.Schema())
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "engine is not initialized", nil)
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "limit deve ser um inteiro positivo", nil)
			return
		}
		limit = parsed
	}
	entries, err := deps.Engine.History(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "corpo da requisição inválido", map[string]any{"details": err.Error()})
		return false
	}
	return true
}

// writeEngineError maps engine failures to status codes. A rejected statement is
// a normal outcome of a question: it answers 200 with "erro" and the statement.
func writeEngineError(w http.ResponseWriter, r *http.Request, record engine.Record, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyQuestion), errors.Is(err, engine.ErrEmptyStatement):
		writeError(r.Context(), w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, engine.ErrNoStatement):
		writeError(r.Context(), w, http.StatusOK, "Nenhum comando SQL foi gerado", map[string]any{"sql": record.SQL})
	case errors.Is(err, engine.ErrValidation):
		writeError(r.Context(), w, http.StatusOK, "SQL inválido: "+record.Reason, map[string]any{"sql": record.SQL})
	case errors.Is(err, query.ErrQuery):
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error(), map[string]any{"sql": record.SQL})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func nonNilRows(rows []query.Row) []query.Row {
	if rows == nil {
		return []query.Row{}
	}
	return rows
}
