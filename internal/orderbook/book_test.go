package orderbook

import (
	"math"
	"testing"
	"time"

	"perpenginev1/internal/model"
)

func snapDelta(bids, asks []model.PriceLevel) model.BookDelta {
	return model.BookDelta{
		Symbol:     "BTCUSDT",
		Bids:       bids,
		Asks:       asks,
		IsSnapshot: true,
		TS:         time.Now(),
	}
}

func levels(pairs ...float64) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func TestWeightedMid_BetweenBidAndAsk(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(
		levels(100, 5, 99, 3, 98, 2),
		levels(101, 1, 102, 4, 103, 2),
	))

	snap, ok := a.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot after update")
	}
	if snap.WeightedMidPrice < snap.BestBid || snap.WeightedMidPrice > snap.BestAsk {
		t.Errorf("weighted mid %.4f not within [%.4f, %.4f]",
			snap.WeightedMidPrice, snap.BestBid, snap.BestAsk)
	}
	// Thin ask side pulls the microprice toward the ask.
	if snap.WeightedMidPrice <= (snap.BestBid+snap.BestAsk)/2 {
		t.Errorf("microprice %.4f should lean above plain mid with a thin ask", snap.WeightedMidPrice)
	}
}

func TestZeroSizeRemovesLevel(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 5, 99, 3), levels(101, 2)))

	// Remove the best bid via zero-size delta.
	a.Update(model.BookDelta{
		Symbol: "BTCUSDT",
		Bids:   levels(100, 0),
		TS:     time.Now(),
	})

	snap, _ := a.Snapshot()
	if snap.BestBid != 99 {
		t.Errorf("best bid = %.2f, want 99 after removal", snap.BestBid)
	}
}

func TestCrossedBook_KeepsLastSnapshot(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 5), levels(101, 5)))
	before, _ := a.Snapshot()

	// A crossed update must be treated as stale: no recompute.
	a.Update(model.BookDelta{Symbol: "BTCUSDT", Bids: levels(102, 5), TS: time.Now()})

	after, _ := a.Snapshot()
	if after.WeightedMidPrice != before.WeightedMidPrice || after.TS != before.TS {
		t.Error("crossed book should not refresh the snapshot")
	}
}

func TestWallBreakDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WallBreakThreshold = 0.5
	a := New("BTCUSDT", cfg)

	// Large bid wall at 99.
	a.Update(snapDelta(levels(100, 2, 99, 50), levels(101, 2, 102, 3)))

	// Wall shrinks below previous × threshold → BID_WALL_BROKEN.
	a.Update(model.BookDelta{Symbol: "BTCUSDT", Bids: levels(99, 10), TS: time.Now()})

	snap, _ := a.Snapshot()
	if snap.WallStatus != model.WallBidBroken {
		t.Errorf("wall status = %s, want %s", snap.WallStatus, model.WallBidBroken)
	}
}

func TestWallDominance(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 40, 99, 5), levels(101, 4, 102, 5)))

	snap, _ := a.Snapshot()
	if snap.WallStatus != model.WallBidSupport {
		t.Errorf("wall status = %s, want %s", snap.WallStatus, model.WallBidSupport)
	}
}

func TestImbalanceAndPressure_Signs(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 50, 99, 40), levels(101, 5, 102, 5)))

	snap, _ := a.Snapshot()
	if snap.Imbalance <= 0 {
		t.Errorf("imbalance %.3f should be positive with a heavy bid side", snap.Imbalance)
	}
	if snap.Pressure <= 0 {
		t.Errorf("pressure %.3f should be positive with a heavy bid side", snap.Pressure)
	}
	want := (90.0 - 10.0) / 100.0
	if math.Abs(snap.Imbalance-want) > 1e-9 {
		t.Errorf("imbalance = %.4f, want %.4f", snap.Imbalance, want)
	}
	if snap.Pressure < -1 || snap.Pressure > 1 {
		t.Errorf("pressure %.3f out of [-1,1]", snap.Pressure)
	}
}

func TestScores_WithinUnitRange(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 50, 99, 40, 98, 30), levels(101, 5, 102, 5, 103, 2)))

	snap, _ := a.Snapshot()
	for _, tc := range []struct {
		name string
		v    float64
	}{
		{"liquidity", snap.LiquidityScore},
		{"microstructure", snap.MicrostructureScore},
	} {
		if tc.v < 0 || tc.v > 1 {
			t.Errorf("%s score %.3f out of [0,1]", tc.name, tc.v)
		}
	}
}

func TestSignals_ImbalanceEvent(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 90, 99, 80), levels(101, 5, 102, 5)))

	sigs := a.Signals()
	var found bool
	for _, s := range sigs {
		if s.Type == SignalImbalance {
			found = true
			if s.Side != model.OrderSideBuy {
				t.Errorf("imbalance side = %s, want BUY", s.Side)
			}
			if s.Strength <= 0 || s.Strength > 1 {
				t.Errorf("strength %.3f out of (0,1]", s.Strength)
			}
		}
	}
	if !found {
		t.Error("expected an imbalance signal for a heavily bid book")
	}
}

func TestSnapshotRebuildsBook(t *testing.T) {
	a := New("BTCUSDT", DefaultConfig())
	a.Update(snapDelta(levels(100, 5, 99, 5), levels(101, 5)))
	// New snapshot replaces everything; the old 99 bid must be gone.
	a.Update(snapDelta(levels(95, 5), levels(96, 5)))

	snap, _ := a.Snapshot()
	if snap.BestBid != 95 || snap.BestAsk != 96 {
		t.Errorf("book = %.2f/%.2f, want 95/96 after snapshot rebuild", snap.BestBid, snap.BestAsk)
	}
}
