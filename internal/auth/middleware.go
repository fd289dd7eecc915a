package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parseqri/parseqri/internal/observability"
)

type contextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// Middleware resolves the caller's tenant from an API key or bearer token.
// Requests without a credential, with an unknown one, or whose credential
// names no tenant never reach next.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := credentialFromRequest(r)
			if credential == "" {
				rejectCredential(w, r, "an X-API-Key header or bearer token is required")
				return
			}

			identity, ok := validator.Validate(r.Context(), credential)
			if !ok {
				logger.WarnContext(r.Context(), "credential rejected",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("key_digest", HashKey(credential)[:12]),
				)
				rejectCredential(w, r, "credential is not recognised")
				return
			}
			if strings.TrimSpace(identity.TenantID) == "" {
				logger.WarnContext(r.Context(), "credential names no tenant",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("key_digest", HashKey(credential)[:12]),
				)
				rejectCredential(w, r, "credential is not bound to a tenant")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// credentialFromRequest prefers X-API-Key over an Authorization bearer token.
func credentialFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func rejectCredential(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="parseqri"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
