package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertSeries(t *testing.T, label string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len(got)=%d, want %d", label, len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d]: got %.6f, want %.6f", label, i, got[i], want[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA / WilderMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// SMA(3) over [1,2,3,4,5]:
	// idx 2: (1+2+3)/3 = 2, idx 3: (2+3+4)/3 = 3, idx 4: (3+4+5)/3 = 4
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assertSeries(t, "SMA(3)", got, []float64{0, 0, 2, 3, 4}, 1e-9)
}

func TestSMA_ShortInput_AllNeutral(t *testing.T) {
	got := SMA([]float64{10, 11}, 5)
	assertSeries(t, "SMA short", got, []float64{0, 0}, 0)
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 0.5, SMA seed at idx 2.
	// Prices: 100, 102, 104, 103, 105
	// idx 2: (100+102+104)/3 = 102
	// idx 3: 103*0.5 + 102*0.5   = 102.5
	// idx 4: 105*0.5 + 102.5*0.5 = 103.75
	got := EMA([]float64{100, 102, 104, 103, 105}, 3)
	assertSeries(t, "EMA(3)", got, []float64{0, 0, 102, 102.5, 103.75}, 1e-9)
}

func TestWilderMA_Correctness_Period3(t *testing.T) {
	// Seed at idx 2: (3+6+9)/3 = 6
	// idx 3: (6*2 + 12)/3 = 8
	// idx 4: (8*2 + 15)/3 = 31/3
	got := WilderMA([]float64{3, 6, 9, 12, 15}, 3)
	assertSeries(t, "WilderMA(3)", got, []float64{0, 0, 6, 8, 31.0 / 3}, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI / Stochastic bounds and neutrality
// ────────────────────────────────────────────────────────────

func TestRSI_Bounds(t *testing.T) {
	prices := []float64{44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1,
		45.9, 46.3, 46.8, 46.4, 46.2, 45.6, 46.2, 46.3, 46.3, 46.0}
	rsi := RSI(prices, 14)
	if len(rsi) != len(prices) {
		t.Fatalf("len mismatch: %d != %d", len(rsi), len(prices))
	}
	for i, v := range rsi {
		if v < 0 || v > 100 {
			t.Errorf("RSI[%d]=%.4f out of [0,100]", i, v)
		}
	}
	// Before the first valid index the value must be the neutral 50.
	for i := 0; i < 14; i++ {
		if rsi[i] != 50 {
			t.Errorf("RSI[%d]=%.4f, want neutral 50", i, rsi[i])
		}
	}
}

func TestRSI_AllGains_Is100(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	rsi := RSI(prices, 14)
	assertClose(t, "RSI all gains", rsi[len(rsi)-1], 100, 1e-9)
}

func TestRSI_ShortInput_AllNeutral(t *testing.T) {
	rsi := RSI([]float64{1, 2, 3}, 14)
	for i, v := range rsi {
		if v != 50 {
			t.Errorf("RSI[%d]=%.2f, want 50", i, v)
		}
	}
}

func TestStochastic_BoundsAndNeutral(t *testing.T) {
	highs := []float64{12, 13, 14, 15, 14, 13, 15, 16, 17, 16}
	lows := []float64{10, 11, 12, 13, 12, 11, 13, 14, 15, 14}
	closes := []float64{11, 12, 13, 14, 13, 12, 14, 15, 16, 15}
	k, d := Stochastic(highs, lows, closes, 5, 3)
	if len(k) != len(closes) || len(d) != len(closes) {
		t.Fatalf("length mismatch")
	}
	for i := range k {
		if k[i] < 0 || k[i] > 100 {
			t.Errorf("%%K[%d]=%.2f out of [0,100]", i, k[i])
		}
		if d[i] < 0 || d[i] > 100 {
			t.Errorf("%%D[%d]=%.2f out of [0,100]", i, d[i])
		}
	}
	for i := 0; i < 4; i++ {
		if k[i] != 50 {
			t.Errorf("%%K[%d]=%.2f, want neutral 50", i, k[i])
		}
	}
}

func TestStochastic_KnownValue(t *testing.T) {
	// Window of 3 ending at close=14, low=10, high=15 → %K = 100*(14-10)/(15-10) = 80
	highs := []float64{15, 14, 15}
	lows := []float64{10, 11, 12}
	closes := []float64{12, 13, 14}
	k, _ := Stochastic(highs, lows, closes, 3, 2)
	assertClose(t, "%K", k[2], 80, 1e-9)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LengthAndWarmup(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)/5)*4
	}
	line, signal, hist := MACD(prices, 12, 26, 9)
	if len(line) != 60 || len(signal) != 60 || len(hist) != 60 {
		t.Fatalf("length mismatch")
	}
	for i := 0; i < 25; i++ {
		if line[i] != 0 {
			t.Errorf("line[%d]=%.4f, want 0 before slow warmup", i, line[i])
		}
	}
	// After full warmup hist must equal line − signal.
	for i := 40; i < 60; i++ {
		assertClose(t, "hist=line-signal", hist[i], line[i]-signal[i], 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// ATR / volatility
// ────────────────────────────────────────────────────────────

func TestTrueRange_GapUp(t *testing.T) {
	// Second candle gaps above the prior close: TR = |high − prevClose|.
	highs := []float64{10, 15}
	lows := []float64{9, 14}
	closes := []float64{9.5, 14.5}
	tr := TrueRange(highs, lows, closes)
	assertClose(t, "TR[0]", tr[0], 1, 1e-9)
	assertClose(t, "TR[1]", tr[1], 5.5, 1e-9)
}

func TestATR_ConstantRange(t *testing.T) {
	// Identical candles: every TR is 2, so ATR settles at 2.
	n := 10
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 11, 9, 10
	}
	atr := ATR(highs, lows, closes, 3)
	assertClose(t, "ATR settled", atr[n-1], 2, 1e-9)
}

func TestHistVolatility_FlatSeries_IsZero(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100}
	vol := HistVolatility(closes, 3)
	for i, v := range vol {
		if v != 0 {
			t.Errorf("vol[%d]=%.6f, want 0 for flat series", i, v)
		}
	}
}

func TestVolatilityRatio_NoHistory_IsOne(t *testing.T) {
	assertClose(t, "ratio", VolatilityRatio([]float64{1, 2}, 10), 1, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Bands and squeeze
// ────────────────────────────────────────────────────────────

func TestBollinger_SymmetricAroundSMA(t *testing.T) {
	prices := []float64{20, 21, 22, 21, 20, 21, 22, 23, 22, 21}
	upper, middle, lower := Bollinger(prices, 5, 2)
	for i := 4; i < len(prices); i++ {
		assertClose(t, "band symmetry", upper[i]-middle[i], middle[i]-lower[i], 1e-9)
		if upper[i] < middle[i] || lower[i] > middle[i] {
			t.Errorf("band ordering broken at %d", i)
		}
	}
}

func TestSqueezeOn(t *testing.T) {
	bbU := []float64{0, 10.5}
	bbL := []float64{0, 9.5}
	kcU := []float64{0, 11}
	kcL := []float64{0, 9}
	if !SqueezeOn(bbU, bbL, kcU, kcL, 1) {
		t.Error("expected squeeze when Bollinger sits inside Keltner")
	}
	if SqueezeOn(bbU, bbL, kcU, kcL, 0) {
		t.Error("no squeeze expected on zero warmup values")
	}
}

// ────────────────────────────────────────────────────────────
// Trend overlays
// ────────────────────────────────────────────────────────────

func trendingSeries(n int, up bool) (highs, lows, closes []float64) {
	highs = make([]float64, n)
	lows = make([]float64, n)
	closes = make([]float64, n)
	for i := 0; i < n; i++ {
		var base float64
		if up {
			base = 100 + 2*float64(i)
		} else {
			base = 100 - 2*float64(i)
		}
		highs[i] = base + 1
		lows[i] = base - 1
		closes[i] = base
	}
	return
}

func TestSuperTrend_FollowsTrend(t *testing.T) {
	highs, lows, closes := trendingSeries(40, true)
	trend, level := SuperTrend(highs, lows, closes, 10, 3)
	if trend[39] != 1 {
		t.Errorf("uptrend: trend=%v, want +1", trend[39])
	}
	if level[39] >= closes[39] {
		t.Errorf("uptrend stop %.2f should sit below close %.2f", level[39], closes[39])
	}

	highs, lows, closes = trendingSeries(40, false)
	trend, level = SuperTrend(highs, lows, closes, 10, 3)
	if trend[39] != -1 {
		t.Errorf("downtrend: trend=%v, want -1", trend[39])
	}
	if level[39] <= closes[39] {
		t.Errorf("downtrend stop %.2f should sit above close %.2f", level[39], closes[39])
	}
}

func TestChandelierExit_FollowsTrend(t *testing.T) {
	highs, lows, closes := trendingSeries(40, true)
	trend, level := ChandelierExit(highs, lows, closes, 14, 3)
	if trend[39] != 1 {
		t.Errorf("uptrend: trend=%v, want +1", trend[39])
	}
	if level[39] >= closes[39] {
		t.Errorf("long stop %.2f should sit below close %.2f", level[39], closes[39])
	}
}

// ────────────────────────────────────────────────────────────
// Regression
// ────────────────────────────────────────────────────────────

func TestLinReg_PerfectLine(t *testing.T) {
	// y = 3x + 7 fits exactly: slope 3, R² = 1.
	prices := make([]float64, 12)
	for i := range prices {
		prices[i] = 3*float64(i) + 7
	}
	slope, r2 := LinReg(prices, 6)
	assertClose(t, "slope", slope[11], 3, 1e-9)
	assertClose(t, "r2", r2[11], 1, 1e-9)
	if slope[4] != 0 || r2[4] != 0 {
		t.Error("values before lookback must be 0")
	}
}

func TestLinReg_FlatLine_ZeroSlope(t *testing.T) {
	prices := []float64{5, 5, 5, 5, 5, 5, 5, 5}
	slope, r2 := LinReg(prices, 5)
	assertClose(t, "slope", slope[7], 0, 1e-9)
	// ssTot is 0 on a flat window; R² stays at the neutral 0.
	assertClose(t, "r2", r2[7], 0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Patterns
// ────────────────────────────────────────────────────────────

func TestDetectFVG_Bullish(t *testing.T) {
	// Candle 3's low (106) is above candle 1's high (104): bullish gap 104–106.
	highs := []float64{104, 108, 109}
	lows := []float64{101, 103, 106}
	gap := DetectFVG(highs, lows)
	if !gap.Exists || !gap.Bullish {
		t.Fatalf("expected bullish FVG, got %+v", gap)
	}
	assertClose(t, "gap top", gap.Top, 106, 1e-9)
	assertClose(t, "gap bottom", gap.Bottom, 104, 1e-9)
	if !gap.Contains(105) || gap.Contains(110) {
		t.Error("Contains misclassifies the gap zone")
	}
}

func TestDetectFVG_Bearish(t *testing.T) {
	highs := []float64{110, 106, 103}
	lows := []float64{107, 102, 100}
	gap := DetectFVG(highs, lows)
	if !gap.Exists || gap.Bullish {
		t.Fatalf("expected bearish FVG, got %+v", gap)
	}
	assertClose(t, "gap top", gap.Top, 107, 1e-9)
	assertClose(t, "gap bottom", gap.Bottom, 103, 1e-9)
}

func TestDetectFVG_None(t *testing.T) {
	highs := []float64{104, 105, 104.5}
	lows := []float64{101, 102, 101.5}
	if gap := DetectFVG(highs, lows); gap.Exists {
		t.Errorf("no gap expected, got %+v", gap)
	}
}

func TestDivergence_Bullish(t *testing.T) {
	// Price makes a lower low while RSI makes a higher low.
	closes := []float64{100, 98, 99, 97, 98, 96}
	rsi := []float64{40, 30, 38, 32, 36, 35}
	if got := Divergence(closes, rsi, 6); got != 1 {
		t.Errorf("got %d, want +1", got)
	}
}

func TestDivergence_Bearish(t *testing.T) {
	closes := []float64{100, 102, 101, 103, 102, 104}
	rsi := []float64{60, 70, 62, 68, 64, 65}
	if got := Divergence(closes, rsi, 6); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

// ────────────────────────────────────────────────────────────
// Pivots, MFI, CCI, Choppiness, ADX, VWAP
// ────────────────────────────────────────────────────────────

func TestPivots_Classic(t *testing.T) {
	pv := Pivots(110, 90, 100)
	assertClose(t, "PP", pv.PP, 100, 1e-9)
	assertClose(t, "R1", pv.R1, 110, 1e-9)
	assertClose(t, "S1", pv.S1, 90, 1e-9)
	assertClose(t, "R2", pv.R2, 120, 1e-9)
	assertClose(t, "S2", pv.S2, 80, 1e-9)
}

func TestFibonacciPivots(t *testing.T) {
	pv := FibonacciPivots(110, 90, 100)
	assertClose(t, "R1", pv.R1, 100+0.382*20, 1e-9)
	assertClose(t, "S2", pv.S2, 100-0.618*20, 1e-9)
	assertClose(t, "R3", pv.R3, 120, 1e-9)
}

func TestMFI_BoundsAndNeutral(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100 + math.Sin(float64(i))*3
		highs[i] = closes[i] + 1
		lows[i] = closes[i] - 1
		volumes[i] = 1000 + float64(i*10)
	}
	mfi := MFI(highs, lows, closes, volumes, 14)
	for i, v := range mfi {
		if v < 0 || v > 100 {
			t.Errorf("MFI[%d]=%.2f out of [0,100]", i, v)
		}
	}
	for i := 0; i < 14; i++ {
		if mfi[i] != 50 {
			t.Errorf("MFI[%d]=%.2f, want neutral 50", i, mfi[i])
		}
	}
}

func TestCCI_FlatSeries_IsZero(t *testing.T) {
	n := 10
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 10, 10, 10
	}
	cci := CCI(highs, lows, closes, 5)
	for i, v := range cci {
		if v != 0 {
			t.Errorf("CCI[%d]=%.4f, want 0", i, v)
		}
	}
}

func TestChoppiness_ShortInput_Neutral(t *testing.T) {
	chop := Choppiness([]float64{1, 2}, []float64{0, 1}, []float64{0.5, 1.5}, 14)
	for i, v := range chop {
		if v != 50 {
			t.Errorf("chop[%d]=%.2f, want 50", i, v)
		}
	}
}

func TestADX_StrongTrend_RisesAboveChop(t *testing.T) {
	highs, lows, closes := trendingSeries(60, true)
	adx, plusDI, minusDI := ADX(highs, lows, closes, 14)
	last := len(adx) - 1
	if adx[last] < 25 {
		t.Errorf("ADX=%.2f, want strong-trend reading above 25", adx[last])
	}
	if plusDI[last] <= minusDI[last] {
		t.Errorf("+DI %.2f should exceed −DI %.2f in an uptrend", plusDI[last], minusDI[last])
	}
}

func TestVWAP_SingleCandle(t *testing.T) {
	// One candle: VWAP equals its typical price.
	got := VWAP([]float64{12}, []float64{10}, []float64{11}, []float64{500})
	assertClose(t, "VWAP", got[0], 11, 1e-9)
}

func TestVWAP_WeightsByVolume(t *testing.T) {
	// tp1=10 @ vol 100, tp2=20 @ vol 300 → (1000+6000)/400 = 17.5
	got := VWAP([]float64{10, 20}, []float64{10, 20}, []float64{10, 20}, []float64{100, 300})
	assertClose(t, "VWAP", got[1], 17.5, 1e-9)
}
