package model

import "time"

// PriceLevel is one order-book level: [price, size].
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookDelta is an order-book update pushed by the data feed.
// A size of zero removes the level. When IsSnapshot is set, both sides
// are rebuilt from scratch.
type BookDelta struct {
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	IsSnapshot bool         `json:"is_snapshot"`
	TS         time.Time    `json:"ts"`
}

// WallStatus classifies the state of the largest resting levels on each side.
type WallStatus string

const (
	WallBalanced      WallStatus = "BALANCED"
	WallBidBroken     WallStatus = "BID_WALL_BROKEN"
	WallAskBroken     WallStatus = "ASK_WALL_BROKEN"
	WallBidSupport    WallStatus = "BID_SUPPORT"
	WallAskResistance WallStatus = "ASK_RESISTANCE"
)

// MicrostructureSnapshot is the derived, read-only view of the order book
// recomputed wholesale on every book update.
type MicrostructureSnapshot struct {
	Symbol             string     `json:"symbol"`
	WeightedMidPrice   float64    `json:"weighted_mid_price"`
	BestBid            float64    `json:"best_bid"`
	BestAsk            float64    `json:"best_ask"`
	SpreadBps          float64    `json:"spread_bps"`
	BidWallSize        float64    `json:"bid_wall_size"`
	AskWallSize        float64    `json:"ask_wall_size"`
	BidWallPrice       float64    `json:"bid_wall_price"`
	AskWallPrice       float64    `json:"ask_wall_price"`
	WallStatus         WallStatus `json:"wall_status"`
	Imbalance          float64    `json:"imbalance"` // (bidVol-askVol)/(bidVol+askVol), [-1,1]
	Pressure           float64    `json:"pressure"`  // distance-weighted, normalized to [-1,1]
	LiquidityScore     float64    `json:"liquidity_score"`
	MicrostructureScore float64   `json:"microstructure_score"`
	TS                 time.Time  `json:"ts"`
}
