// Package scorer fuses indicator values and order-book microstructure into
// one weighted directional score. Scoring is pure: identical inputs and
// weights always produce the identical signal.
package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"perpenginev1/internal/indicator"
	"perpenginev1/internal/model"
)

// Weights configures the factor weights and decision thresholds.
type Weights struct {
	TrendMTF   float64 `yaml:"trend_mtf"`
	TrendFast  float64 `yaml:"trend_fast"`
	TrendSlow  float64 `yaml:"trend_slow"`
	Momentum   float64 `yaml:"momentum"`
	Squeeze    float64 `yaml:"squeeze"`
	Divergence float64 `yaml:"divergence"`
	FVG        float64 `yaml:"fvg"`
	Wall       float64 `yaml:"wall"`
	Volatility float64 `yaml:"volatility"`

	ActionThreshold float64 `yaml:"action_threshold"`

	// Volatility-ratio bounds for the adjustment step.
	VolHighRatio float64 `yaml:"vol_high_ratio"`
	VolLowRatio  float64 `yaml:"vol_low_ratio"`
}

// DefaultWeights returns the stock weight set.
func DefaultWeights() Weights {
	return Weights{
		TrendMTF:        1.0,
		TrendFast:       0.8,
		TrendSlow:       0.6,
		Momentum:        0.7,
		Squeeze:         0.5,
		Divergence:      0.6,
		FVG:             0.4,
		Wall:            0.5,
		Volatility:      0.3,
		ActionThreshold: 1.0,
		VolHighRatio:    1.5,
		VolLowRatio:     0.5,
	}
}

// Inputs is the fused per-cycle view the scorer consumes. Values are the
// latest elements of the index-aligned indicator series plus the current
// microstructure snapshot.
type Inputs struct {
	Symbol string
	Price  float64

	RSI       float64
	StochK    float64
	MACDHist  float64
	TrendMTF  model.TrendLabel // multi-timeframe trend label
	FastTrend float64          // SuperTrend direction, ±1 or 0
	SlowTrend float64          // Chandelier Exit direction, ±1 or 0
	RegR2     float64          // rolling regression R², [0,1]

	SqueezeOn  bool
	Divergence int // +1 bullish, −1 bearish, 0 none
	FVG        indicator.FairValueGap

	Micro    model.MicrostructureSnapshot
	HasMicro bool

	VolatilityRatio float64
	Regime          model.Regime
}

// Scorer applies a weight set to fused inputs.
type Scorer struct {
	w Weights
}

// New creates a scorer with the given weights.
func New(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score produces the per-cycle trade signal from the fused inputs.
func (s *Scorer) Score(in Inputs) model.TradeSignal {
	w := s.w
	var reasons []string

	// Trend: weighted directional signs, discounted by regression quality.
	trendScore := (in.TrendMTF.Sign()*w.TrendMTF +
		in.FastTrend*w.TrendFast +
		in.SlowTrend*w.TrendSlow) * in.RegR2
	if trendScore != 0 {
		reasons = append(reasons, fmt.Sprintf("trend %+.2f", trendScore))
	}

	// Momentum: normalized oscillator distance from 50 plus MACD sign.
	momentumScore := ((in.RSI-50)/50 + (in.StochK-50)/50 + sign(in.MACDHist)) * w.Momentum
	if momentumScore != 0 {
		reasons = append(reasons, fmt.Sprintf("momentum %+.2f", momentumScore))
	}

	// Structure: squeeze, divergence, fair-value gap, wall proximity.
	var structureScore float64
	if in.SqueezeOn {
		sq := w.Squeeze * sign(in.MACDHist)
		structureScore += sq
		reasons = append(reasons, fmt.Sprintf("squeeze %+.2f", sq))
	}
	if in.Divergence != 0 {
		dv := w.Divergence * float64(in.Divergence)
		structureScore += dv
		reasons = append(reasons, fmt.Sprintf("divergence %+.2f", dv))
	}
	if in.FVG.Contains(in.Price) {
		fv := w.FVG
		if !in.FVG.Bullish {
			fv = -fv
		}
		structureScore += fv
		reasons = append(reasons, fmt.Sprintf("fvg %+.2f", fv))
	}
	if in.HasMicro {
		if wl := wallTerm(in.Micro.WallStatus, w.Wall); wl != 0 {
			structureScore += wl
			reasons = append(reasons, fmt.Sprintf("wall %+.2f", wl))
		}
	}

	raw := trendScore + momentumScore + structureScore

	// Volatility adjustment: damp in turbulent regimes, lean in when quiet.
	switch {
	case in.VolatilityRatio > w.VolHighRatio:
		raw *= 1 - w.Volatility
		reasons = append(reasons, "vol damp")
	case in.VolatilityRatio > 0 && in.VolatilityRatio < w.VolLowRatio:
		raw *= 1 + w.Volatility
		reasons = append(reasons, "vol boost")
	}

	score := math.Round(raw*100) / 100

	action := model.ActionHold
	switch {
	case score >= w.ActionThreshold:
		action = model.ActionBuy
	case score <= -w.ActionThreshold:
		action = model.ActionSell
	}

	confidence := clamp01(math.Abs(score) / (2 * w.ActionThreshold))

	return model.TradeSignal{
		Symbol:        in.Symbol,
		Action:        action,
		Confidence:    confidence,
		WeightedScore: score,
		Strategy:      "weighted_score",
		Reason:        strings.Join(reasons, ", "),
		TS:            time.Time{}, // stamped by the engine loop
	}
}

// Threshold exposes the configured action threshold for advisory override
// checks.
func (s *Scorer) Threshold() float64 { return s.w.ActionThreshold }

// wallTerm maps the wall status to a half-weight structure bonus/penalty.
func wallTerm(status model.WallStatus, weight float64) float64 {
	half := weight / 2
	switch status {
	case model.WallBidSupport, model.WallAskBroken:
		return half
	case model.WallAskResistance, model.WallBidBroken:
		return -half
	default:
		return 0
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
