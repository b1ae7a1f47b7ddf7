package model

import "time"

// Action represents a directional trading decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// TrendLabel classifies the direction of one timeframe.
type TrendLabel string

const (
	TrendUp      TrendLabel = "UP"
	TrendDown    TrendLabel = "DOWN"
	TrendNeutral TrendLabel = "NEUTRAL"
)

// Sign maps the trend label to a directional sign.
func (t TrendLabel) Sign() float64 {
	switch t {
	case TrendUp:
		return 1
	case TrendDown:
		return -1
	default:
		return 0
	}
}

// Regime classifies the prevailing volatility regime.
type Regime string

const (
	RegimeQuiet    Regime = "QUIET"
	RegimeNormal   Regime = "NORMAL"
	RegimeVolatile Regime = "VOLATILE"
)

// TradeSignal is the engine's per-cycle decision. Produced once per cycle,
// immutable after creation. Entry/StopLoss/TakeProfit are zero when unset.
type TradeSignal struct {
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	Confidence    float64   `json:"confidence"` // [0,1]
	WeightedScore float64   `json:"weighted_score"`
	Strategy      string    `json:"strategy"`
	Reason        string    `json:"reason"`
	Entry         float64   `json:"entry,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	TS            time.Time `json:"ts"`
}
