package risk

import (
	"testing"
	"time"
)

// fakeClock is an adjustable clock for driving the breaker in tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(limits Limits) (*Manager, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(limits, 10000, clk.now), clk
}

// ──────────────────────────── consecutive losses ────────────────────────────

func TestConsecutiveLosses_TripAndCooldown(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxConsecutiveLosses = 3
	limits.CooldownLosses = 30 * time.Minute
	m, clk := newTestManager(limits)

	for i := 0; i < 3; i++ {
		if ok, _ := m.CanTrade(); !ok {
			t.Fatalf("breaker tripped after only %d losses", i)
		}
		m.RecordTrade(-10)
	}

	ok, reason := m.CanTrade()
	if ok {
		t.Fatal("expected breaker open at the consecutive-loss limit")
	}
	if reason == "" {
		t.Error("expected a reason string when blocked")
	}

	// Still blocked mid-cooldown.
	clk.advance(10 * time.Minute)
	if ok, _ := m.CanTrade(); ok {
		t.Error("breaker reopened before cooldown elapsed")
	}

	// Cooldown served: trading resumes and the loss streak is cleared.
	clk.advance(25 * time.Minute)
	if ok, reason := m.CanTrade(); !ok {
		t.Errorf("breaker still open after cooldown: %s", reason)
	}
	if st := m.Snapshot(); st.ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses = %d after cooldown, want 0", st.ConsecutiveLosses)
	}
}

func TestWin_ResetsLossStreak(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	m.RecordTrade(-10)
	m.RecordTrade(-10)
	m.RecordTrade(25)
	if st := m.Snapshot(); st.ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses = %d after a win, want 0", st.ConsecutiveLosses)
	}
}

// ──────────────────────────── daily limits ────────────────────────────

func TestDailyTradeLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDailyTrades = 2
	m, _ := newTestManager(limits)

	m.RecordTrade(5)
	m.RecordTrade(5)
	if ok, _ := m.CanTrade(); ok {
		t.Error("expected breaker open at the daily trade limit")
	}
}

func TestDailyLossLimit_PctOfDayStartEquity(t *testing.T) {
	limits := DefaultLimits()
	limits.DailyLossLimitPct = 5.0 // 5% of 10000 = 500
	limits.MaxConsecutiveLosses = 0
	m, _ := newTestManager(limits)

	m.RecordTrade(-499)
	if ok, _ := m.CanTrade(); !ok {
		t.Fatal("breaker open below the daily loss limit")
	}
	m.RecordTrade(-2)
	if ok, _ := m.CanTrade(); ok {
		t.Error("expected breaker open past the daily loss limit")
	}
}

func TestDailyReset_ExactlyOncePerDay(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDailyTrades = 2
	m, clk := newTestManager(limits)

	m.RecordTrade(-10)
	m.RecordTrade(-10)

	// Crossing UTC midnight clears the daily counters once.
	clk.advance(13 * time.Hour)
	m.CanTrade()
	st := m.Snapshot()
	if st.DailyTrades != 0 || st.DailyLossAmount != 0 || st.OrderRejections != 0 {
		t.Errorf("daily counters not reset at rollover: %+v", st)
	}

	// Further ticks on the same day must not re-reset accumulated state.
	m.RecordTrade(-10)
	clk.advance(time.Hour)
	m.CanTrade()
	if st := m.Snapshot(); st.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1 (reset ran twice?)", st.DailyTrades)
	}
}

// ──────────────────────────── rejections / drawdown ────────────────────────────

func TestRejectionLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOrderRejections = 2
	m, _ := newTestManager(limits)

	m.RecordRejection()
	if ok, _ := m.CanTrade(); !ok {
		t.Fatal("breaker open below the rejection limit")
	}
	m.RecordRejection()
	if ok, _ := m.CanTrade(); ok {
		t.Error("expected breaker open at the rejection limit")
	}
}

func TestDrawdown_TripsFromPeak(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDrawdownPct = 10.0
	limits.DailyLossLimitPct = 0
	limits.MaxConsecutiveLosses = 0
	m, _ := newTestManager(limits)

	m.UpdateEquity(12000) // new peak
	m.UpdateEquity(11000) // 8.3% off peak, fine
	if ok, _ := m.CanTrade(); !ok {
		t.Fatal("breaker open below the drawdown limit")
	}
	m.UpdateEquity(10700) // 10.8% off peak
	if ok, _ := m.CanTrade(); ok {
		t.Error("expected breaker open past the drawdown limit")
	}
	if st := m.Snapshot(); st.MaxDrawdownObserved < 10.0 {
		t.Errorf("max drawdown observed = %.2f, want >= 10", st.MaxDrawdownObserved)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	m.RecordTrade(-10)
	a := m.Snapshot()
	m.RecordTrade(-10)
	b := m.Snapshot()
	if a.ConsecutiveLosses == b.ConsecutiveLosses {
		t.Error("snapshots should reflect state at capture time")
	}
}
