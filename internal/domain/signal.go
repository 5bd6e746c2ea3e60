package domain

import "time"

// Bus channels.
const (
	ChannelOrders  = "orders"
	ChannelTrades  = "trades"
	ChannelPrices  = "prices"
	ChannelMarkets = "markets"
)

// Event is the envelope published on the signal bus after a commit.
type Event struct {
	Type     string    `json:"type"`
	MarketID string    `json:"market_id"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

// PriceTick reports a new outcome price.
type PriceTick struct {
	OutcomeID string  `json:"outcome_id"`
	Price     float64 `json:"price"`
}
