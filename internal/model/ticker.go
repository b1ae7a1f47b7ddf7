package model

import "time"

// Ticker is a streaming market snapshot pushed by the data feed.
type Ticker struct {
	Symbol         string    `json:"symbol"`
	LastPrice      float64   `json:"last_price"`
	Volume24h      float64   `json:"volume_24h"`
	PriceChangePct float64   `json:"price_change_pct"`
	TS             time.Time `json:"ts"`
}
