package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"perpenginev1/internal/exchange"
	"perpenginev1/internal/model"
	"perpenginev1/internal/orderbook"
	"perpenginev1/internal/ringbuf"
	"perpenginev1/internal/risk"
	"perpenginev1/internal/scorer"
)

const testSymbol = "BTCUSDT"

// testLoop wires a loop over a zero-friction simulator with an adjustable
// clock. Journal, publisher, metrics, and advisor stay nil; the loop must
// tolerate that.
func testLoop(t *testing.T) (*Loop, *exchange.Simulator, *risk.Manager, *time.Time) {
	t.Helper()
	clk := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clk }

	sim := exchange.NewSimulator(exchange.SimConfig{}, nil, now)
	exCfg := exchange.Config{
		EntrySizeBps:   100,
		MinQty:         0.0001,
		StopLossPct:    1.5,
		TakeProfitPct:  3,
		OrderTimeout:   100 * time.Millisecond,
		PollInterval:   time.Millisecond,
		InitialBalance: 10000,
	}
	ex := exchange.NewEngine(exCfg, sim, zerolog.Nop(), now)
	rm := risk.New(risk.DefaultLimits(), 10000, now)

	l := New(Config{
		Symbol:         testSymbol,
		Interval:       5 * time.Second,
		CandleInterval: "5",
		MTFInterval:    "60",
		HistoryLimit:   200,
	}, Deps{
		Ticks:    ringbuf.New(256),
		Book:     orderbook.New(testSymbol, orderbook.DefaultConfig()),
		Scorer:   scorer.New(scorer.DefaultWeights()),
		Risk:     rm,
		Exchange: ex,
		SetMark:  func(_ string, p float64) { sim.SetMark(p) },
	}, zerolog.Nop(), now)
	return l, sim, rm, &clk
}

// uptrend builds a steadily rising series so every trend and momentum
// factor points long.
func uptrend(n int, start time.Time, interval time.Duration) []model.Candle {
	out := make([]model.Candle, n)
	px := 100.0
	for i := range out {
		out[i] = model.Candle{
			Symbol:   testSymbol,
			OpenTime: start.Add(time.Duration(i) * interval),
			Open:     px,
			High:     px + 1.2,
			Low:      px - 0.2,
			Close:    px + 1,
			Volume:   10,
		}
		px++
	}
	return out
}

func tick(price float64, ts time.Time) model.Ticker {
	return model.Ticker{Symbol: testSymbol, LastPrice: price, TS: ts}
}

// ──────────────────────────── window ────────────────────────────

func TestWindow_ApplyUpdatesFormingCandle(t *testing.T) {
	w := newWindow(5*time.Minute, 10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w.apply(tick(100, base))
	w.apply(tick(103, base.Add(time.Minute)))
	w.apply(tick(99, base.Add(2*time.Minute)))

	if w.len() != 1 {
		t.Fatalf("len = %d, want 1 forming candle", w.len())
	}
	c := w.candles[0]
	if c.Open != 100 || c.High != 103 || c.Low != 99 || c.Close != 99 {
		t.Errorf("candle = O%.0f H%.0f L%.0f C%.0f, want O100 H103 L99 C99",
			c.Open, c.High, c.Low, c.Close)
	}
}

func TestWindow_ApplyRollsAtBucketBoundary(t *testing.T) {
	w := newWindow(5*time.Minute, 10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w.apply(tick(100, base))
	w.apply(tick(105, base.Add(5*time.Minute)))

	if w.len() != 2 {
		t.Fatalf("len = %d, want 2 after boundary roll", w.len())
	}
	if w.candles[1].Open != 105 || w.candles[1].OpenTime != base.Add(5*time.Minute) {
		t.Errorf("rolled candle = %+v", w.candles[1])
	}
}

func TestWindow_CapacityTrimsOldest(t *testing.T) {
	w := newWindow(time.Minute, 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		w.apply(tick(float64(100+i), base.Add(time.Duration(i)*time.Minute)))
	}
	if w.len() != 3 {
		t.Fatalf("len = %d, want 3", w.len())
	}
	if w.candles[0].Open != 102 {
		t.Errorf("oldest open = %v, want 102", w.candles[0].Open)
	}
}

func TestWindow_SeedKeepsTail(t *testing.T) {
	w := newWindow(time.Minute, 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w.seed(uptrend(10, base, time.Minute))
	if w.len() != 3 {
		t.Fatalf("len = %d, want 3", w.len())
	}
	if w.candles[2].Close != 110 {
		t.Errorf("newest close = %v, want 110", w.candles[2].Close)
	}
}

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		code string
		want time.Duration
	}{
		{"1", time.Minute},
		{"5", 5 * time.Minute},
		{"60", time.Hour},
		{"D", 24 * time.Hour},
		{"W", 7 * 24 * time.Hour},
		{"bogus", 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := intervalDuration(tc.code); got != tc.want {
			t.Errorf("intervalDuration(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

// ──────────────────────────── cycle ────────────────────────────

func TestCycle_NoPriceYet_DoesNothing(t *testing.T) {
	l, _, _, _ := testLoop(t)
	l.Cycle(context.Background())
	if _, ok := l.deps.Exchange.Position(testSymbol); ok {
		t.Fatal("no position should exist without market data")
	}
}

func TestCycle_StrongUptrend_OpensLong(t *testing.T) {
	l, _, _, clk := testLoop(t)
	start := clk.Add(-200 * 5 * time.Minute)
	l.work.seed(uptrend(200, start, 5*time.Minute))
	l.mtf.seed(uptrend(200, clk.Add(-200*time.Hour), time.Hour))

	l.deps.Ticks.Push(tick(300, *clk))
	l.Cycle(context.Background())

	pos, ok := l.deps.Exchange.Position(testSymbol)
	if !ok {
		t.Fatal("expected a long position after a strong uptrend cycle")
	}
	if pos.Side != model.PositionLong {
		t.Errorf("side = %s, want LONG", pos.Side)
	}
	if pos.StopLoss >= pos.AvgEntryPrice || pos.TakeProfit <= pos.AvgEntryPrice {
		t.Errorf("stops not bracketed: sl=%v entry=%v tp=%v",
			pos.StopLoss, pos.AvgEntryPrice, pos.TakeProfit)
	}
}

func TestCycle_RiskBreakerBlocksEntry(t *testing.T) {
	l, _, rm, clk := testLoop(t)
	l.work.seed(uptrend(200, clk.Add(-200*5*time.Minute), 5*time.Minute))
	l.mtf.seed(uptrend(200, clk.Add(-200*time.Hour), time.Hour))

	// Three straight losses trip the default breaker.
	rm.RecordTrade(-10)
	rm.RecordTrade(-10)
	rm.RecordTrade(-10)

	l.deps.Ticks.Push(tick(300, *clk))
	l.Cycle(context.Background())

	if _, ok := l.deps.Exchange.Position(testSymbol); ok {
		t.Fatal("entry should be blocked while the breaker is tripped")
	}
}

func TestCycle_StopLossTouchClosesBeforeNewEntry(t *testing.T) {
	l, _, _, clk := testLoop(t)
	l.work.seed(uptrend(200, clk.Add(-200*5*time.Minute), 5*time.Minute))
	l.mtf.seed(uptrend(200, clk.Add(-200*time.Hour), time.Hour))

	l.deps.Ticks.Push(tick(300, *clk))
	l.Cycle(context.Background())
	pos, ok := l.deps.Exchange.Position(testSymbol)
	if !ok {
		t.Fatal("setup: expected open long")
	}

	// Next cycle ticks through the stop. The position must close at the
	// stop level even though the trend signal still says BUY.
	*clk = clk.Add(5 * time.Second)
	l.deps.Ticks.Push(tick(pos.StopLoss-1, *clk))
	l.Cycle(context.Background())

	next, ok := l.deps.Exchange.Position(testSymbol)
	if ok && next.OpenedAt.Equal(pos.OpenedAt) {
		t.Fatal("stopped-out position should be gone at cycle end")
	}
	if l.deps.Exchange.RealizedPnL() >= 0 {
		t.Errorf("realized = %v, want a loss from the stop",
			l.deps.Exchange.RealizedPnL())
	}
}

func TestCycle_DrainUsesNewestTick(t *testing.T) {
	l, sim, _, clk := testLoop(t)
	l.work.seed(uptrend(200, clk.Add(-200*5*time.Minute), 5*time.Minute))
	l.mtf.seed(uptrend(200, clk.Add(-200*time.Hour), time.Hour))

	l.deps.Ticks.Push(tick(300, *clk))
	l.deps.Ticks.Push(tick(301, clk.Add(time.Second)))
	l.deps.Ticks.Push(tick(302, clk.Add(2*time.Second)))
	l.Cycle(context.Background())

	if sim.Mark() != 302 {
		t.Errorf("sim mark = %v, want newest tick 302", sim.Mark())
	}
	if l.lastPrice != 302 {
		t.Errorf("lastPrice = %v, want 302", l.lastPrice)
	}
}

func TestCycle_SkipsWhileBusy(t *testing.T) {
	l, _, _, _ := testLoop(t)
	if !l.busy.CompareAndSwap(false, true) {
		t.Fatal("setup: busy flag")
	}
	// A second claim must fail; Run counts that as a skipped tick.
	if l.busy.CompareAndSwap(false, true) {
		t.Fatal("second cycle claimed the busy flag while one was running")
	}
}

func TestMTFTrend_Labels(t *testing.T) {
	l, _, _, clk := testLoop(t)

	l.mtf.seed(uptrend(100, clk.Add(-100*time.Hour), time.Hour))
	if got := l.mtfTrend(); got != model.TrendUp {
		t.Errorf("uptrend label = %s, want UP", got)
	}

	// Mirror the series downward.
	down := uptrend(100, clk.Add(-100*time.Hour), time.Hour)
	for i := range down {
		down[i].Open = 400 - down[i].Open
		down[i].Close = 400 - down[i].Close
		h := 400 - down[i].Low
		lo := 400 - down[i].High
		down[i].High, down[i].Low = h, lo
	}
	l.mtf.seed(down)
	if got := l.mtfTrend(); got != model.TrendDown {
		t.Errorf("downtrend label = %s, want DOWN", got)
	}

	l.mtf.seed(nil)
	if got := l.mtfTrend(); got != model.TrendNeutral {
		t.Errorf("empty label = %s, want NEUTRAL", got)
	}
}
