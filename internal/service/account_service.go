package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Session is an authenticated session issued by the identity provider.
type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// Registrar creates identities at the identity provider.
type Registrar interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
}

// AgentCredentials are returned once to a newly registered agent.
type AgentCredentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AccountService provisions trading accounts.
type AccountService struct {
	tx              domain.Transactor
	registrar       Registrar
	startingBalance decimal.Decimal
	emailDomain     string
	events          *Publisher
	logger          *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(
	tx domain.Transactor,
	registrar Registrar,
	startingBalance decimal.Decimal,
	emailDomain string,
	events *Publisher,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		tx:              tx,
		registrar:       registrar,
		startingBalance: startingBalance,
		emailDomain:     emailDomain,
		events:          events,
		logger:          logger,
	}
}

// RegisterAgent creates an identity with generated credentials and a user
// row funded with the starting balance.
func (s *AccountService) RegisterAgent(ctx context.Context) (AgentCredentials, error) {
	if s.registrar == nil {
		return AgentCredentials{}, fmt.Errorf("account_service: %w: no identity provider configured", domain.ErrForbidden)
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	username := "agent_" + suffix[:6]
	creds := AgentCredentials{
		Email:    username + "@" + s.emailDomain,
		Password: suffix[6:22],
		Username: username,
	}

	sess, err := s.registrar.SignUp(ctx, creds.Email, creds.Password)
	if err != nil {
		return AgentCredentials{}, fmt.Errorf("account_service: sign up: %w", err)
	}
	creds.UserID = sess.UserID
	creds.AccessToken = sess.AccessToken
	creds.RefreshToken = sess.RefreshToken

	if err := s.CreateUser(ctx, sess.UserID, username); err != nil {
		return AgentCredentials{}, err
	}

	s.events.Audit(ctx, "agent_registered", map[string]any{"user_id": sess.UserID, "username": username})
	s.logger.InfoContext(ctx, "account_service: agent registered",
		slog.String("user_id", sess.UserID),
		slog.String("username", username),
	)
	return creds, nil
}

// CreateUser inserts a user row funded with the starting balance.
func (s *AccountService) CreateUser(ctx context.Context, userID, username string) error {
	err := s.tx.Stores().Users.Create(ctx, domain.User{
		ID:             userID,
		Username:       username,
		Balance:        s.startingBalance,
		Profit:         decimal.Zero,
		PositionsValue: decimal.Zero,
	})
	if err != nil {
		return fmt.Errorf("account_service: create user %s: %w", userID, err)
	}
	return nil
}
