package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Principal is the immutable summary of the authenticated user that
// the auth middleware attaches to the request context. Role reflects
// the freshly loaded record, not the token claim.
type Principal struct {
	ID    int
	Email string
	Role  string
}

func principalFromContext(ctx context.Context) (Principal, error) {
	principal, ok := ctx.Value(contextPrincipalKey).(Principal)
	if !ok || principal.ID < 1 {
		return Principal{}, errors.New("missing principal")
	}
	return principal, nil
}

func contextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, principal)
}

func parseIDParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
