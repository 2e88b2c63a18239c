package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iabi/nlq/internal/auth"
	"github.com/iabi/nlq/internal/config"
	"github.com/iabi/nlq/internal/engine"
	"github.com/iabi/nlq/internal/journal"
	"github.com/iabi/nlq/internal/observability"
)

// Engine is the part of *engine.Engine the HTTP surface needs.
type Engine interface {
	Ask(ctx context.Context, question string) (engine.Record, error)
	RunRaw(ctx context.Context, statement string) (engine.Record, error)
	Schema() engine.Schema
	Info() engine.Info
	History(ctx context.Context, limit int) ([]journal.Entry, error)
	Ready(ctx context.Context) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Engine            Engine
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", func(w http.ResponseWriter, _ *http.Request) {
		response := map[string]any{"status": "ok", "message": "API Online", "service": cfg.Service.Name}
		if deps.Engine != nil {
			info := deps.Engine.Info()
			response["table"] = info.Table
			response["rows"] = info.Rows
			response["model"] = info.Model
			response["mode"] = info.Mode
		}
		writeJSON(w, http.StatusOK, response)
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Engine == nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "engine is not initialized", nil)
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Engine.Ready(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /nlq", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.Handle("POST /sql", auth.RequireRole(auth.RoleRawSQL, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRawSQL(deps, w, r)
	})))
	protected.HandleFunc("GET /schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "auth middleware is required by configuration", nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /nlq", protectedHandler)
	mux.Handle("POST /sql", protectedHandler)
	mux.Handle("GET /schema", protectedHandler)
	mux.Handle("GET /history", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	return chain(mux,
		observability.TraceMiddleware,
		observability.InstrumentMiddleware(deps.Logger),
	)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits {"erro": message, "trace_id": ...} plus any extra fields.
func writeError(ctx context.Context, w http.ResponseWriter, status int, message string, extra map[string]any) {
	payload := map[string]any{
		"erro":     message,
		"trace_id": observability.TraceIDFromContext(ctx),
	}
	for key, value := range extra {
		payload[key] = value
	}
	writeJSON(w, status, payload)
}
