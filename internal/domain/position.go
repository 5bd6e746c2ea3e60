package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's signed share count in one outcome.
type Position struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	OutcomeID string          `json:"outcome_id"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// User holds the account balances the engine mutates.
type User struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Balance        decimal.Decimal `json:"balance"`
	Profit         decimal.Decimal `json:"profit"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	CreatedAt      time.Time       `json:"created_at"`
}
