package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/pagination"
	"github.com/homebitez/api/internal/platform/requestctx"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
	maxJSONBodySize     = 16 * 1024
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeRequest decodes a JSON body and writes the 400 envelope itself on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := httpx.DecodeJSON(r, dst, allowEmpty); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, status, payload)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// sessionCaller returns the resolved session key and the signed-in user, if any.
func sessionCaller(ctx context.Context, w http.ResponseWriter) (string, *auth.Identity, bool) {
	key := requestctx.SessionKey(ctx)
	if strings.TrimSpace(key) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "checkout session could not be resolved", http.StatusBadRequest))
		return "", nil, false
	}
	identity, _ := auth.IdentityFromContext(ctx)
	return key, identity, true
}

func identityUID(identity *auth.Identity) string {
	if identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

func identityEmail(identity *auth.Identity) string {
	if identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.Email)
}

// listParams parses pageSize and the optional filters a list endpoint accepts.
func listParams(w http.ResponseWriter, r *http.Request, filters map[string][]pagination.Operator) (pagination.Params, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize:     defaultListPageSize,
		MaxPageSize:         maxListPageSize,
		AllowedFilterFields: filters,
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return pagination.Params{}, false
	}
	return params, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
