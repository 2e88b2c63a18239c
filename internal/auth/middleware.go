package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iabi/nlq/internal/observability"
)

var (
	errMissingKey = errors.New("missing API key")
	errUnknownKey = errors.New("invalid API key")
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware authenticates every request with an API key taken from X-API-Key
// or an Authorization bearer token.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authenticate(r, validator)
			if err != nil {
				if logger != nil && errors.Is(err, errUnknownKey) {
					logger.WarnContext(r.Context(), "api key rejected", slog.String("route", r.Method+" "+r.URL.Path))
				}
				writeDenied(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects authenticated callers lacking role. Requests without an
// identity pass through; they only exist when authentication is disabled.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if ok && !identity.HasRole(role) {
			writeDenied(w, r, http.StatusForbidden, "missing required role "+role)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authenticate(r *http.Request, validator APIKeyValidator) (Identity, error) {
	key := apiKey(r.Header)
	if key == "" {
		return Identity{}, errMissingKey
	}
	identity, ok := validator.Validate(r.Context(), key)
	if !ok {
		return Identity{}, errUnknownKey
	}
	return identity, nil
}

func apiKey(header http.Header) string {
	if key := strings.TrimSpace(header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeDenied(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"erro":     message,
		"trace_id": observability.TraceIDFromContext(r.Context()),
	})
}
