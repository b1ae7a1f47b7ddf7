package model

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position represents the single tracked position for a symbol.
// Owned exclusively by the exchange engine; mutated only on fill events.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Qty           float64      `json:"qty"` // always positive; direction in Side
	AvgEntryPrice float64      `json:"avg_entry_price"`
	StopLoss      float64      `json:"stop_loss,omitempty"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	Strategy      string       `json:"strategy,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// UnrealizedPnL computes the open profit/loss at the given mark price.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	if p.Side == PositionShort {
		return (p.AvgEntryPrice - markPrice) * p.Qty
	}
	return (markPrice - p.AvgEntryPrice) * p.Qty
}

// SignedQty returns the quantity signed by direction (negative = short).
func (p *Position) SignedQty() float64 {
	if p.Side == PositionShort {
		return -p.Qty
	}
	return p.Qty
}
