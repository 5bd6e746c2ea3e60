package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a question users trade on. Outcome holds the winning outcome's
// name once the market is resolved.
type Market struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      MarketStatus `json:"status"`
	Outcome     string       `json:"outcome"`
	ClosesAt    *time.Time   `json:"closes_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Open reports whether the market accepts orders.
func (m Market) Open() bool {
	return m.Status == MarketStatusOpen
}

// Option is a binary sub-question of a market. Its two outcomes trade as a
// complementary pair whose prices sum to one.
type Option struct {
	ID           string `json:"id"`
	MarketID     string `json:"market_id"`
	Name         string `json:"name"`
	YesOutcomeID string `json:"yes_outcome_id"`
	NoOutcomeID  string `json:"no_outcome_id"`
}

// Contains reports whether outcomeID is one of the option's legs.
func (o Option) Contains(outcomeID string) bool {
	return o.YesOutcomeID == outcomeID || o.NoOutcomeID == outcomeID
}

// Complement returns the other leg of the option.
func (o Option) Complement(outcomeID string) string {
	if o.YesOutcomeID == outcomeID {
		return o.NoOutcomeID
	}
	return o.YesOutcomeID
}

// Outcome is a tradable leg with its current price. Version increases on
// every price write.
type Outcome struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"market_id"`
	Name         string    `json:"name"`
	InitialPrice float64   `json:"initial_price"`
	CurrentPrice float64   `json:"current_price"`
	IsWinner     *bool     `json:"is_winner,omitempty"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PricePoint is a recorded snapshot of an outcome price.
type PricePoint struct {
	MarketID   string    `json:"market_id"`
	OutcomeID  string    `json:"outcome_id"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recorded_at"`
}
