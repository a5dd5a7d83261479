package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
)

type ctxKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a entities.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext returns the authenticated caller.
func ActorFromContext(ctx context.Context) (entities.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(entities.Actor)
	return a, ok
}

// Middleware rejects requests without a valid bearer token and stores
// the resolved actor in the request context.
func Middleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			actor, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(entities.ErrorResponse{Code: string(apperr.KindUnauthorized), Message: msg})
}
