package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buying"
	OrderSideSell OrderSide = "selling"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the counterparty side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a request to trade Amount shares of one outcome. Remaining is the
// unfilled quantity; a pending order with Remaining > 0 rests on the book.
type Order struct {
	ID        string          `json:"id"`
	MarketID  string          `json:"market_id"`
	UserID    string          `json:"user_id"`
	OutcomeID string          `json:"outcome_id"`
	Side      OrderSide       `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Price     float64         `json:"price"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Filled returns the quantity already executed.
func (o Order) Filled() decimal.Decimal {
	return o.Amount.Sub(o.Remaining)
}

// Resting reports whether the order can still be matched.
func (o Order) Resting() bool {
	return o.Status == OrderStatusPending && o.Remaining.IsPositive()
}
