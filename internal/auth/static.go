package auth

import (
	"context"
	"crypto/subtle"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Static authenticates against a fixed token to user id table. It backs
// local development and tests.
type Static struct {
	tokens map[string]string
}

// NewStatic creates a Static authenticator from token -> user id pairs.
func NewStatic(tokens map[string]string) *Static {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &Static{tokens: cp}
}

// Authenticate implements domain.Authenticator.
func (s *Static) Authenticate(_ context.Context, token string) (string, error) {
	for t, user := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", domain.ErrUnauthenticated
}
