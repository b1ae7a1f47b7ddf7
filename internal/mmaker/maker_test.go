package mmaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"perpenginev1/internal/model"
	"perpenginev1/internal/risk"
)

// fakeVenue records placements and cancels.
type fakeVenue struct {
	mu        sync.Mutex
	nextID    int
	placed    []Quote
	cancelled []string
}

func (v *fakeVenue) PlaceLimit(_ context.Context, _ string, side model.OrderSide, price, qty float64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	v.placed = append(v.placed, Quote{Side: side, Price: price, Size: qty})
	return fmt.Sprintf("mm-%d", v.nextID), nil
}

func (v *fakeVenue) Cancel(_ context.Context, _ string, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, id)
	return nil
}

func testConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		BaseSpreadBps:   4,
		MinSpreadBps:    2,
		MaxSpreadBps:    20,
		SizeBps:         100, // 1% of balance
		MaxInventory:    1,
		InventorySizing: 0.7,
		Levels:          2,
		LevelStepBps:    2,
		MinQty:          0.0001,
		StaleAfter:      20 * time.Second,
		RefreshEvery:    5 * time.Second,
	}
}

// ──────────────────────────── spread ────────────────────────────

func TestDynamicSpread_ClampedAndWidening(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)

	// Perfect book quotes the base spread.
	if got := m.DynamicSpread(1.0); got != 4 {
		t.Errorf("spread at score 1.0 = %.2f, want 4", got)
	}
	// Degraded book widens toward 2x base.
	if got := m.DynamicSpread(0.0); got != 8 {
		t.Errorf("spread at score 0.0 = %.2f, want 8", got)
	}
	// Clamp at the configured max.
	cfg := testConfig()
	cfg.BaseSpreadBps = 15
	m = New(cfg, &fakeVenue{}, nil)
	if got := m.DynamicSpread(0.0); got != 20 {
		t.Errorf("spread = %.2f, want clamped to 20", got)
	}
}

// ──────────────────────────── ladder ────────────────────────────

func TestComputeQuotes_LadderAroundMid(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	quotes := m.ComputeQuotes(100, 10000, 1.0)

	if len(quotes) != 4 { // 2 levels per side
		t.Fatalf("got %d quotes, want 4", len(quotes))
	}
	for _, q := range quotes {
		switch q.Side {
		case model.OrderSideBuy:
			if q.Price >= 100 {
				t.Errorf("bid %.4f not below mid", q.Price)
			}
		case model.OrderSideSell:
			if q.Price <= 100 {
				t.Errorf("ask %.4f not above mid", q.Price)
			}
		}
		if q.Size <= 0 {
			t.Errorf("non-positive quote size %.6f", q.Size)
		}
	}

	// Best bid/ask sit half the dynamic spread off mid: 4bps/2 on 100 = 0.02.
	if math.Abs(quotes[0].Price-99.98) > 1e-9 {
		t.Errorf("best bid = %.4f, want 99.98", quotes[0].Price)
	}
	if math.Abs(quotes[1].Price-100.02) > 1e-9 {
		t.Errorf("best ask = %.4f, want 100.02", quotes[1].Price)
	}
}

func TestComputeQuotes_SizeFromBalance(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	quotes := m.ComputeQuotes(100, 10000, 1.0)
	// 1% of 10000 = 100 quote value → 1.0 qty at price 100, split over 2 levels.
	var bidTotal float64
	for _, q := range quotes {
		if q.Side == model.OrderSideBuy {
			bidTotal += q.Size
		}
	}
	if math.Abs(bidTotal-1.0) > 1e-9 {
		t.Errorf("total bid size = %.6f, want 1.0", bidTotal)
	}
}

func TestComputeQuotes_InventoryShrinksGrowingSide(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	// Long 0.5 of max 1.0: pressure 0.5, shrink = 1 − 0.5·0.7 = 0.65 on bids.
	m.OnFill("x", model.OrderSideBuy, 100, 0.5)

	quotes := m.ComputeQuotes(100, 10000, 1.0)
	var bidTotal, askTotal float64
	for _, q := range quotes {
		if q.Side == model.OrderSideBuy {
			bidTotal += q.Size
		} else {
			askTotal += q.Size
		}
	}
	if bidTotal >= askTotal {
		t.Errorf("long inventory should shrink bids: bid %.4f vs ask %.4f", bidTotal, askTotal)
	}
	if math.Abs(bidTotal-0.65) > 1e-9 {
		t.Errorf("bid total = %.4f, want 0.65", bidTotal)
	}
}

func TestComputeQuotes_NoMarketNoQuotes(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	if q := m.ComputeQuotes(0, 10000, 1.0); q != nil {
		t.Error("expected no quotes without a mid price")
	}
	if q := m.ComputeQuotes(100, 0, 1.0); q != nil {
		t.Error("expected no quotes without balance")
	}
}

// ──────────────────────────── staleness ────────────────────────────

func TestRefresh_CancelsStaleOrders(t *testing.T) {
	venue := &fakeVenue{}
	clk := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clk }
	m := New(testConfig(), venue, now)

	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	first := m.RestingCount()
	if first == 0 {
		t.Fatal("expected resting orders after first refresh")
	}

	// Not yet stale: nothing cancelled.
	clk = clk.Add(10 * time.Second)
	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	if len(venue.cancelled) != 0 {
		t.Errorf("cancelled %d fresh orders", len(venue.cancelled))
	}

	// Past the staleness timeout: the first batch goes.
	clk = clk.Add(15 * time.Second)
	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	if len(venue.cancelled) != first {
		t.Errorf("cancelled %d orders, want %d", len(venue.cancelled), first)
	}
}

// ──────────────────────────── risk gate ────────────────────────────

func TestRefresh_ClosedGatePullsQuotes(t *testing.T) {
	venue := &fakeVenue{}
	m := New(testConfig(), venue, nil)
	allowed := true
	m.Gate = func() bool { return allowed }

	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	resting := m.RestingCount()
	if resting == 0 {
		t.Fatal("expected resting orders with an open gate")
	}

	allowed = false
	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	if got := len(venue.placed); got != resting {
		t.Errorf("placed %d quotes total, want %d: no new quotes through a closed gate", got, resting)
	}
	if m.RestingCount() != 0 {
		t.Errorf("resting = %d with closed gate, want 0", m.RestingCount())
	}
	if len(venue.cancelled) != resting {
		t.Errorf("cancelled %d orders, want all %d pulled", len(venue.cancelled), resting)
	}
}

func TestRefresh_TrippedBreakerStopsQuoting(t *testing.T) {
	venue := &fakeVenue{}
	m := New(testConfig(), venue, nil)
	rm := risk.New(risk.DefaultLimits(), 10000, nil)
	m.Gate = func() bool {
		ok, _ := rm.CanTrade()
		return ok
	}

	for i := 0; i < 3; i++ {
		rm.RecordTrade(-10)
	}

	if err := m.Refresh(context.Background(), 100, 10000, 1.0); err != nil {
		t.Fatal(err)
	}
	if len(venue.placed) != 0 {
		t.Errorf("placed %d quotes while the breaker is tripped, want 0", len(venue.placed))
	}
}

// ──────────────────────────── fills and PnL ────────────────────────────

func TestOnFill_SpreadCapture(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)

	m.OnFill("a", model.OrderSideBuy, 99.98, 0.5)
	m.OnFill("b", model.OrderSideSell, 100.02, 0.5)

	if qty, _ := m.Inventory(); qty != 0 {
		t.Errorf("inventory = %.4f after round trip, want 0", qty)
	}
	want := (100.02 - 99.98) * 0.5
	if got := m.RealizedPnL(); math.Abs(got-want) > 1e-9 {
		t.Errorf("realized = %.6f, want %.6f", got, want)
	}
}

func TestOnFill_VWAPOnAdds(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	m.OnFill("a", model.OrderSideBuy, 100, 1)
	m.OnFill("b", model.OrderSideBuy, 110, 1)
	qty, avg := m.Inventory()
	if qty != 2 || math.Abs(avg-105) > 1e-9 {
		t.Errorf("inventory = %.2f@%.2f, want 2@105", qty, avg)
	}
}

func TestOnFill_FlipThroughFlat(t *testing.T) {
	m := New(testConfig(), &fakeVenue{}, nil)
	m.OnFill("a", model.OrderSideBuy, 100, 1)
	m.OnFill("b", model.OrderSideSell, 102, 3)

	qty, avg := m.Inventory()
	if qty != -2 {
		t.Errorf("inventory = %.2f, want -2", qty)
	}
	if avg != 102 {
		t.Errorf("avg price = %.2f, want 102 for the flipped remainder", avg)
	}
	if got := m.RealizedPnL(); math.Abs(got-2) > 1e-9 {
		t.Errorf("realized = %.4f, want 2 on the closed long", got)
	}
}
