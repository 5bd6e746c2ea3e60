package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PositionService values holdings and serves position queries.
type PositionService struct {
	tx     domain.Transactor
	logger *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(tx domain.Transactor, logger *slog.Logger) *PositionService {
	return &PositionService{tx: tx, logger: logger}
}

// Revalue sets the user's positions value to the sum of amount times current
// price over positive positions, using st.
func (s *PositionService) Revalue(ctx context.Context, st domain.Stores, userID string) error {
	positions, err := st.Positions.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("position_service: list positions %s: %w", userID, err)
	}

	prices := map[string]float64{}
	total := decimal.Zero
	for _, pos := range positions {
		if !pos.Amount.IsPositive() {
			continue
		}
		price, ok := prices[pos.OutcomeID]
		if !ok {
			oc, err := st.Outcomes.GetByID(ctx, pos.OutcomeID)
			if err != nil {
				return fmt.Errorf("position_service: get outcome %s: %w", pos.OutcomeID, err)
			}
			price = oc.CurrentPrice
			prices[pos.OutcomeID] = price
		}
		total = total.Add(pos.Amount.Mul(decimal.NewFromFloat(price)))
	}

	if err := st.Users.SetPositionsValue(ctx, userID, total); err != nil {
		return fmt.Errorf("position_service: set positions value %s: %w", userID, err)
	}
	return nil
}

// RevalueAll recomputes the positions value of every position holder, one
// transaction per user. It returns the number of users updated.
func (s *PositionService) RevalueAll(ctx context.Context) (int, error) {
	holders, err := s.tx.Stores().Positions.ListHolders(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_service: list holders: %w", err)
	}

	updated := 0
	for _, userID := range holders {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
			return s.Revalue(ctx, st, userID)
		})
		if err != nil {
			s.logger.WarnContext(ctx, "position_service: revalue failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}
	return updated, nil
}

// ListForUser returns the user's non-zero positions.
func (s *PositionService) ListForUser(ctx context.Context, userID string) ([]domain.Position, error) {
	positions, err := s.tx.Stores().Positions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for user %s: %w", userID, err)
	}
	out := positions[:0]
	for _, p := range positions {
		if !p.Amount.IsZero() {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetUser returns the account of userID.
func (s *PositionService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.tx.Stores().Users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("position_service: get user %s: %w", userID, err)
	}
	return u, nil
}
