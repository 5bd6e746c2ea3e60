package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestSupabaseAuthenticate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") != "anon" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "user-1"})
		case "Bearer broken":
			http.Error(w, "teapot", http.StatusTeapot)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	t.Cleanup(srv.Close)

	sb := NewSupabase(SupabaseConfig{URL: srv.URL, AnonKey: "anon"})
	ctx := context.Background()

	id, err := sb.Authenticate(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	_, err = sb.Authenticate(ctx, "expired")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = sb.Authenticate(ctx, "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = sb.Authenticate(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSupabaseSignUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		confirmEmail bool
	}{
		{"session from signup", false},
		{"password grant fallback", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var grants int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "a@b.test", body["email"])
				session := map[string]any{
					"access_token":  "at",
					"refresh_token": "rt",
					"user":          map[string]string{"id": "user-9"},
				}
				switch r.URL.Path {
				case "/auth/v1/signup":
					if tc.confirmEmail {
						session = map[string]any{"id": "user-9"}
					}
				case "/auth/v1/token":
					assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
					grants++
				default:
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_ = json.NewEncoder(w).Encode(session)
			}))
			t.Cleanup(srv.Close)

			sess, err := NewSupabase(SupabaseConfig{URL: srv.URL, AnonKey: "anon"}).
				SignUp(context.Background(), "a@b.test", "pw")
			require.NoError(t, err)
			assert.Equal(t, "user-9", sess.UserID)
			assert.Equal(t, "at", sess.AccessToken)
			assert.Equal(t, "rt", sess.RefreshToken)
			if tc.confirmEmail {
				assert.Equal(t, 1, grants)
			} else {
				assert.Zero(t, grants)
			}
		})
	}
}

func TestSupabaseSignUpRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":422,"msg":"User already registered"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewSupabase(SupabaseConfig{URL: srv.URL}).SignUp(context.Background(), "a@b.test", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User already registered")
}

func TestStatic(t *testing.T) {
	t.Parallel()
	s := NewStatic(map[string]string{"tok": "alice"})

	id, err := s.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = s.Authenticate(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
