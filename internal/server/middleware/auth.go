package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/predictex/internal/domain"
)

type userIDKey struct{}

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user id stored by Authenticate.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// Authenticate returns middleware that resolves the bearer token to a user id
// with authn and stores it in the request context. Requests without a valid
// token, or resolving to a reserved identity, get a 401.
func Authenticate(authn domain.Authenticator, reserved []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			userID, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthenticated) {
					logger.WarnContext(r.Context(), "auth: provider error", slog.String("error", err.Error()))
					writeJSON(w, http.StatusServiceUnavailable, errorBody{
						Error:     "authentication provider unavailable",
						Kind:      string(domain.KindStore),
						Retryable: true,
					})
					return
				}
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			for _, id := range reserved {
				if userID == id {
					writeUnauthorized(w, "reserved identity")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireKey returns middleware admitting only requests whose header carries
// key. An empty key rejects every request.
func RequireKey(header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(header))
			// Constant-time comparison to prevent timing attacks.
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeUnauthorized(w, "invalid "+strings.ToLower(header))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: msg, Kind: string(domain.KindUnauthenticated)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
