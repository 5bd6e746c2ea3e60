package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/service"
)

// AccountService provisions accounts.
type AccountService interface {
	RegisterAgent(ctx context.Context) (service.AgentCredentials, error)
}

// AgentHandler serves automated-agent onboarding. The route is guarded by
// the agent key middleware.
type AgentHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(accounts AccountService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{accounts: accounts, logger: logger}
}

// Register creates an identity and a funded account and returns the
// generated credentials once.
// POST /api/agents/auth
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, err := h.accounts.RegisterAgent(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "register agent", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, creds)
}
