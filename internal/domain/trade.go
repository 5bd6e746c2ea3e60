package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an executed match between a buy order and a sell order.
// MarketMaker is set when one side was the synthetic counterparty.
type Trade struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	OutcomeID     string          `json:"outcome_id"`
	BuyerOrderID  string          `json:"buyer_order_id"`
	SellerOrderID string          `json:"seller_order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Price         float64         `json:"price"`
	MarketMaker   bool            `json:"market_maker"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Notional returns Amount * Price.
func (t Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(decimal.NewFromFloat(t.Price))
}
