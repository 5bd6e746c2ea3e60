// Package auth verifies bearer tokens and registers identities.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// SupabaseConfig points at a Supabase project.
type SupabaseConfig struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// Supabase talks to the GoTrue endpoints of a Supabase project. It
// implements domain.Authenticator and service.Registrar.
type Supabase struct {
	http *resty.Client
}

// NewSupabase creates a Supabase client. Transport errors and 5xx replies
// are retried.
func NewSupabase(cfg SupabaseConfig) *Supabase {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Content-Type", "application/json")
	return &Supabase{http: client}
}

type gotrueUser struct {
	ID string `json:"id"`
}

type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

type gotrueError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Error   string `json:"error_description"`
}

func (e gotrueError) String() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Authenticate resolves an access token to the user id it was issued for.
func (s *Supabase) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", domain.ErrUnauthenticated
	}
	var user gotrueUser
	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/auth/v1/user")
	if err != nil {
		return "", fmt.Errorf("auth: get user: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return "", domain.ErrUnauthenticated
	case resp.IsError():
		return "", fmt.Errorf("auth: get user: status %d: %s", resp.StatusCode(), resp.String())
	case user.ID == "":
		return "", domain.ErrUnauthenticated
	}
	return user.ID, nil
}

// SignUp creates an identity and returns a session for it. Projects that
// require email confirmation return no session from signup, so a password
// grant follows in that case.
func (s *Supabase) SignUp(ctx context.Context, email, password string) (service.Session, error) {
	creds := map[string]string{"email": email, "password": password}

	var signup gotrueSession
	var apiErr gotrueError
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(creds).
		SetResult(&signup).
		SetError(&apiErr).
		Post("/auth/v1/signup")
	if err != nil {
		return service.Session{}, fmt.Errorf("auth: signup: %w", err)
	}
	if resp.IsError() {
		return service.Session{}, fmt.Errorf("auth: signup: status %d: %s", resp.StatusCode(), apiErr)
	}
	if signup.AccessToken != "" {
		return toSession(signup), nil
	}

	var grant gotrueSession
	resp, err = s.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(creds).
		SetResult(&grant).
		SetError(&apiErr).
		Post("/auth/v1/token")
	if err != nil {
		return service.Session{}, fmt.Errorf("auth: password grant: %w", err)
	}
	if resp.IsError() {
		return service.Session{}, fmt.Errorf("auth: password grant: status %d: %s", resp.StatusCode(), apiErr)
	}
	return toSession(grant), nil
}

func toSession(s gotrueSession) service.Session {
	return service.Session{
		UserID:       s.User.ID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}
