package model

import "github.com/google/uuid"

// Message type strings used by the feed deployments this module targets.
const (
	TypePriceUpdate = "price_update"
	TypeTrade       = "trade"
)

// PriceUpdate is the payload of a price_update message.
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
	Volume    int64   `json:"volume,omitempty"`
	Timestamp int64   `json:"timestamp"` // ms since epoch, exchange time
}

// TradePrint is the payload of a trade message.
type TradePrint struct {
	ID        uuid.UUID `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Side      string    `json:"side"` // "buy" or "sell", taker side
	Timestamp int64     `json:"timestamp"`
}
