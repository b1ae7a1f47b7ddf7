package orderbook

import (
	"fmt"

	"perpenginev1/internal/model"
)

// SignalType identifies a discrete order-book advisory event.
type SignalType string

const (
	SignalWideSpread  SignalType = "WIDE_SPREAD"
	SignalTightSpread SignalType = "TIGHT_SPREAD"
	SignalWallBroken  SignalType = "WALL_BROKEN"
	SignalImbalance   SignalType = "IMBALANCE"
	SignalPressure    SignalType = "PRESSURE"
)

// Signal is one advisory event derived from the current snapshot.
// Strength is normalized to [0,1].
type Signal struct {
	Type     SignalType
	Side     model.OrderSide // side the event favors
	Strength float64
	Detail   string
}

// Signals derives the discrete advisory events from the latest snapshot.
// Returns nil until a snapshot has been computed.
func (a *Analyzer) Signals() []Signal {
	snap, ok := a.Snapshot()
	if !ok {
		return nil
	}
	cfg := a.cfg
	var out []Signal

	if snap.SpreadBps > cfg.WideSpreadBps {
		out = append(out, Signal{
			Type:     SignalWideSpread,
			Strength: clamp01(snap.SpreadBps / (2 * cfg.WideSpreadBps)),
			Detail:   fmt.Sprintf("spread %.2f bps", snap.SpreadBps),
		})
	} else if snap.SpreadBps < cfg.TightSpreadBps {
		out = append(out, Signal{
			Type:     SignalTightSpread,
			Strength: clamp01(1 - snap.SpreadBps/cfg.TightSpreadBps),
			Detail:   fmt.Sprintf("spread %.2f bps", snap.SpreadBps),
		})
	}

	switch snap.WallStatus {
	case model.WallBidBroken:
		out = append(out, Signal{
			Type: SignalWallBroken, Side: model.OrderSideSell, Strength: 1,
			Detail: "bid wall broken",
		})
	case model.WallAskBroken:
		out = append(out, Signal{
			Type: SignalWallBroken, Side: model.OrderSideBuy, Strength: 1,
			Detail: "ask wall broken",
		})
	}

	if abs(snap.Imbalance) > cfg.ImbalanceThreshold {
		side := model.OrderSideBuy
		if snap.Imbalance < 0 {
			side = model.OrderSideSell
		}
		out = append(out, Signal{
			Type: SignalImbalance, Side: side,
			Strength: clamp01(abs(snap.Imbalance)),
			Detail:   fmt.Sprintf("imbalance %+.2f", snap.Imbalance),
		})
	}

	if abs(snap.Pressure) > cfg.PressureThreshold {
		side := model.OrderSideBuy
		if snap.Pressure < 0 {
			side = model.OrderSideSell
		}
		out = append(out, Signal{
			Type: SignalPressure, Side: side,
			Strength: clamp01(abs(snap.Pressure)),
			Detail:   fmt.Sprintf("pressure %+.2f", snap.Pressure),
		})
	}
	return out
}
